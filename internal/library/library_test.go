package library

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
)

const sampleFile = `---
id: ent-ashka
name: Ashka the Wanderer
kind: character
culture: emberclan
importance: renowned
summary: A wandering storyteller.
---

Ashka walks the trade roads between the ember holds, carrying news
and old songs.
`

func writeLibrary(t *testing.T, files map[string]string) *Library {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	lib, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	return lib
}

func TestParseFrontmatter(t *testing.T) {
	fm, body, err := ParseFrontmatter([]byte(sampleFile))
	if err != nil {
		t.Fatal(err)
	}
	if fm.ID != "ent-ashka" {
		t.Errorf("ID = %q, want ent-ashka", fm.ID)
	}
	if fm.Culture != "emberclan" {
		t.Errorf("Culture = %q, want emberclan", fm.Culture)
	}
	if fm.Importance != "renowned" {
		t.Errorf("Importance = %q, want renowned", fm.Importance)
	}
	if !strings.HasPrefix(string(body), "Ashka walks") {
		t.Errorf("body = %q", body)
	}
}

func TestParseFrontmatter_NoHeader(t *testing.T) {
	content := []byte("Just a plain description.\n")
	fm, body, err := ParseFrontmatter(content)
	if err != nil {
		t.Fatal(err)
	}
	if fm.ID != "" {
		t.Errorf("ID = %q, want empty", fm.ID)
	}
	if string(body) != string(content) {
		t.Errorf("body = %q, want full content", body)
	}
}

func TestLibrary_LoadAll(t *testing.T) {
	lib := writeLibrary(t, map[string]string{
		"ashka.md": sampleFile,
		"brin.md": `---
id: ent-brin
name: Brin
kind: character
---

Brin keeps the gate.
`,
		"notes.txt": "not an entity",
	})

	entities, err := lib.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(entities) != 2 {
		t.Fatalf("entities = %d, want 2", len(entities))
	}
	// Sorted by id.
	if entities[0].ID != "ent-ashka" || entities[1].ID != "ent-brin" {
		t.Errorf("ids = [%s %s]", entities[0].ID, entities[1].ID)
	}
	if entities[0].Importance != domain.ImportanceRenowned {
		t.Errorf("importance = %s, want renowned", entities[0].Importance)
	}
	if !strings.Contains(entities[0].Description, "trade roads") {
		t.Errorf("description = %q", entities[0].Description)
	}
}

func TestLibrary_LoadAllRejectsMissingID(t *testing.T) {
	lib := writeLibrary(t, map[string]string{
		"broken.md": "---\nname: No ID\n---\n\nBody.\n",
	})
	if _, err := lib.LoadAll(); err == nil {
		t.Error("expected error for entity without id")
	}
}

func TestLibrary_LoadByID(t *testing.T) {
	lib := writeLibrary(t, map[string]string{"ashka.md": sampleFile})
	if _, err := lib.LoadAll(); err != nil {
		t.Fatal(err)
	}

	entities, err := lib.Load([]string{"ent-ashka"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entities) != 1 || entities[0].Name != "Ashka the Wanderer" {
		t.Fatalf("entities = %+v", entities)
	}

	if _, err := lib.Load([]string{"ent-unknown"}); err == nil {
		t.Error("expected error for unindexed entity")
	}
}

func TestLibrary_LoadWithoutPriorLoadAll(t *testing.T) {
	lib := writeLibrary(t, map[string]string{"ashka.md": sampleFile})

	// A resumed CLI invocation loads batch entities from a fresh Open
	// with no walk of the directory beforehand.
	entities, err := lib.Load([]string{"ent-ashka"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entities) != 1 || entities[0].Name != "Ashka the Wanderer" {
		t.Fatalf("entities = %+v", entities)
	}

	if _, err := lib.Load([]string{"ent-unknown"}); err == nil {
		t.Error("expected error for entity absent from the directory")
	}
}

func TestLibrary_ApplyPatchesWithoutPriorLoadAll(t *testing.T) {
	lib := writeLibrary(t, map[string]string{"ashka.md": sampleFile})

	err := lib.ApplyPatches([]domain.Patch{{
		EntityID: "ent-ashka",
		Changes: []domain.FieldChange{
			{Field: "summary", Proposed: "A storyteller of the ember holds."},
		},
	}})
	if err != nil {
		t.Fatal(err)
	}

	entities, err := lib.Load([]string{"ent-ashka"})
	if err != nil {
		t.Fatal(err)
	}
	if entities[0].Summary != "A storyteller of the ember holds." {
		t.Errorf("Summary = %q", entities[0].Summary)
	}
}

func TestLibrary_LoadClearsDirty(t *testing.T) {
	lib := writeLibrary(t, map[string]string{"ashka.md": sampleFile})
	if _, err := lib.LoadAll(); err != nil {
		t.Fatal(err)
	}

	lib.MarkDirty("ent-ashka")
	if lib.DirtyCount() != 1 {
		t.Fatalf("DirtyCount = %d, want 1", lib.DirtyCount())
	}
	if _, err := lib.Load([]string{"ent-ashka"}); err != nil {
		t.Fatal(err)
	}
	if lib.DirtyCount() != 0 {
		t.Errorf("DirtyCount = %d after load, want 0", lib.DirtyCount())
	}
}

func TestLibrary_ApplyPatches(t *testing.T) {
	lib := writeLibrary(t, map[string]string{"ashka.md": sampleFile})
	if _, err := lib.LoadAll(); err != nil {
		t.Fatal(err)
	}

	err := lib.ApplyPatches([]domain.Patch{{
		EntityID:   "ent-ashka",
		EntityName: "Ashka the Wanderer",
		Changes: []domain.FieldChange{
			{Field: "summary", Proposed: "A storyteller bound to the ember roads."},
			{Field: "description", Proposed: "Ashka carries the memory of every hold she has slept in."},
		},
		Annotation: "*Rewritten during the third age pass.*",
	}})
	if err != nil {
		t.Fatal(err)
	}

	entities, err := lib.Load([]string{"ent-ashka"})
	if err != nil {
		t.Fatal(err)
	}
	got := entities[0]
	if got.Summary != "A storyteller bound to the ember roads." {
		t.Errorf("summary = %q", got.Summary)
	}
	if !strings.Contains(got.Description, "memory of every hold") {
		t.Errorf("description = %q", got.Description)
	}
	if !strings.Contains(got.Description, "third age pass") {
		t.Errorf("annotation missing from %q", got.Description)
	}
	// Untouched frontmatter survives the rewrite.
	if got.Culture != "emberclan" {
		t.Errorf("culture = %q, want emberclan", got.Culture)
	}
}

func TestLibrary_ApplyPatchesUnknownEntity(t *testing.T) {
	lib := writeLibrary(t, map[string]string{"ashka.md": sampleFile})
	if _, err := lib.LoadAll(); err != nil {
		t.Fatal(err)
	}

	err := lib.ApplyPatches([]domain.Patch{{EntityID: "ent-ghost"}})
	if err == nil {
		t.Error("expected error for entity outside the library")
	}
}

func TestOpen_RequiresDirectory(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}
