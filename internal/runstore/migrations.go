package runstore

const schema = `
CREATE TABLE IF NOT EXISTS revision_runs (
    run_id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    record TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_revision_runs_project ON revision_runs(project_id);
CREATE INDEX IF NOT EXISTS idx_revision_runs_status ON revision_runs(status);

CREATE TABLE IF NOT EXISTS task_archive (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    run_id TEXT,
    status TEXT NOT NULL,
    error_message TEXT,
    enqueued_at TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_task_archive_entity ON task_archive(entity_id);
CREATE INDEX IF NOT EXISTS idx_task_archive_run ON task_archive(run_id);
`
