// Package workflow provides the four revision workflows: bulk summary
// rewrite, lore back-port, persona-voiced edition, and persona-voiced
// review. All four share the revision state machine; each contributes
// only its payload assembly and its apply step.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
	"github.com/chris-arsenault/the-canonry-sub014/internal/library"
	"github.com/chris-arsenault/the-canonry-sub014/internal/revision"
)

// EntityContext is one entity's slice of a batch payload
type EntityContext struct {
	Entity      domain.EntityRef `json:"entity"`
	Culture     string           `json:"culture,omitempty"`
	Summary     string           `json:"summary,omitempty"`
	Description string           `json:"description,omitempty"`
}

// BatchPayload is the executor payload for one batch's sentinel task
type BatchPayload struct {
	Kind      domain.WorkflowKind `json:"type"`
	Entities  []EntityContext     `json:"entities"`
	World     json.RawMessage     `json:"context,omitempty"`
	Persona   string              `json:"persona,omitempty"`
	Documents []string            `json:"documents,omitempty"`
}

// base carries what every workflow shares: the library for just-in-time
// entity loading and for applying accepted patches
type base struct {
	kind domain.WorkflowKind
	lib  *library.Library
}

func (b *base) Kind() domain.WorkflowKind {
	return b.kind
}

func (b *base) Apply(ctx context.Context, patches []domain.Patch) error {
	if len(patches) == 0 {
		return nil
	}
	return b.lib.ApplyPatches(patches)
}

// entityContexts loads the batch's entities from the library at
// dispatch time
func (b *base) entityContexts(batch *domain.Batch) ([]EntityContext, error) {
	entities, err := b.lib.Load(batch.EntityIDs)
	if err != nil {
		return nil, fmt.Errorf("assemble batch context: %w", err)
	}
	contexts := make([]EntityContext, 0, len(entities))
	for _, e := range entities {
		contexts = append(contexts, EntityContext{
			Entity:      e.Ref(),
			Culture:     e.Culture,
			Summary:     e.Summary,
			Description: e.Description,
		})
	}
	return contexts, nil
}

// Rewrite is the bulk summary/description rewrite workflow
type Rewrite struct {
	base
}

// NewRewrite creates the rewrite workflow over a library
func NewRewrite(lib *library.Library) *Rewrite {
	return &Rewrite{base{kind: domain.KindRewrite, lib: lib}}
}

// BuildPayload implements revision.Workflow
func (w *Rewrite) BuildPayload(ctx context.Context, run *domain.RevisionRun, batch *domain.Batch) (json.RawMessage, error) {
	contexts, err := w.entityContexts(batch)
	if err != nil {
		return nil, err
	}
	return json.Marshal(BatchPayload{
		Kind:     w.kind,
		Entities: contexts,
		World:    run.Context,
	})
}

// LoreBackport back-ports facts from long-form documents into entity
// summaries and descriptions. The documents ride in the run context bag
// supplied once at start.
type LoreBackport struct {
	base
	documents []string
}

// NewLoreBackport creates the lore back-port workflow
func NewLoreBackport(lib *library.Library, documents []string) *LoreBackport {
	return &LoreBackport{base: base{kind: domain.KindLoreBackport, lib: lib}, documents: documents}
}

// BuildPayload implements revision.Workflow
func (w *LoreBackport) BuildPayload(ctx context.Context, run *domain.RevisionRun, batch *domain.Batch) (json.RawMessage, error) {
	contexts, err := w.entityContexts(batch)
	if err != nil {
		return nil, err
	}
	return json.Marshal(BatchPayload{
		Kind:      w.kind,
		Entities:  contexts,
		World:     run.Context,
		Documents: w.documents,
	})
}

// PersonaEdition rewrites entity text in a named in-world persona's
// voice
type PersonaEdition struct {
	base
	persona string
}

// NewPersonaEdition creates the persona edition workflow
func NewPersonaEdition(lib *library.Library, persona string) *PersonaEdition {
	return &PersonaEdition{base: base{kind: domain.KindPersonaEdition, lib: lib}, persona: persona}
}

// BuildPayload implements revision.Workflow
func (w *PersonaEdition) BuildPayload(ctx context.Context, run *domain.RevisionRun, batch *domain.Batch) (json.RawMessage, error) {
	contexts, err := w.entityContexts(batch)
	if err != nil {
		return nil, err
	}
	return json.Marshal(BatchPayload{
		Kind:     w.kind,
		Entities: contexts,
		World:    run.Context,
		Persona:  w.persona,
	})
}

// PersonaReview produces historian-style annotations on entity text in
// a persona's voice, appended rather than replacing
type PersonaReview struct {
	base
	persona string
}

// NewPersonaReview creates the persona review workflow
func NewPersonaReview(lib *library.Library, persona string) *PersonaReview {
	return &PersonaReview{base: base{kind: domain.KindPersonaReview, lib: lib}, persona: persona}
}

// BuildPayload implements revision.Workflow
func (w *PersonaReview) BuildPayload(ctx context.Context, run *domain.RevisionRun, batch *domain.Batch) (json.RawMessage, error) {
	contexts, err := w.entityContexts(batch)
	if err != nil {
		return nil, err
	}
	return json.Marshal(BatchPayload{
		Kind:     w.kind,
		Entities: contexts,
		World:    run.Context,
		Persona:  w.persona,
	})
}

var (
	_ revision.Workflow = (*Rewrite)(nil)
	_ revision.Workflow = (*LoreBackport)(nil)
	_ revision.Workflow = (*PersonaEdition)(nil)
	_ revision.Workflow = (*PersonaReview)(nil)
)
