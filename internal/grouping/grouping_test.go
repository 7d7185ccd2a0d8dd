package grouping

import (
	"fmt"
	"testing"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
)

func entity(id, culture string, imp domain.Importance) *domain.Entity {
	return &domain.Entity{ID: id, Name: id, Culture: culture, Importance: imp}
}

func TestGroupIntoBatches_PartitionsByCulture(t *testing.T) {
	entities := []*domain.Entity{
		entity("a", "thornfolk", domain.ImportanceCommon),
		entity("b", "emberclan", domain.ImportanceCommon),
		entity("c", "thornfolk", domain.ImportanceCommon),
	}

	batches := GroupIntoBatches(entities, 18)
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	// Cultures come out sorted.
	if batches[0].Culture != "emberclan" || batches[1].Culture != "thornfolk" {
		t.Errorf("cultures = [%s %s], want [emberclan thornfolk]", batches[0].Culture, batches[1].Culture)
	}
	if len(batches[1].EntityIDs) != 2 {
		t.Errorf("thornfolk batch size = %d, want 2", len(batches[1].EntityIDs))
	}
}

func TestGroupIntoBatches_OrdersByImportance(t *testing.T) {
	entities := []*domain.Entity{
		entity("minor", "kin", domain.ImportanceMarginal),
		entity("legend", "kin", domain.ImportanceMythic),
		entity("mid", "kin", domain.ImportanceNotable),
		entity("odd", "kin", domain.Importance("unheard-of")),
	}

	batches := GroupIntoBatches(entities, 18)
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	want := []string{"legend", "mid", "minor", "odd"}
	for i, id := range want {
		if batches[0].EntityIDs[i] != id {
			t.Errorf("EntityIDs[%d] = %s, want %s", i, batches[0].EntityIDs[i], id)
		}
	}
}

func TestGroupIntoBatches_ChunksOversizedGroups(t *testing.T) {
	var entities []*domain.Entity
	for i := 0; i < 19; i++ {
		entities = append(entities, entity(fmt.Sprintf("dwarf-%02d", i), "stonekin", domain.ImportanceCommon))
	}
	for i := 0; i < 21; i++ {
		entities = append(entities, entity(fmt.Sprintf("elf-%02d", i), "willowkin", domain.ImportanceCommon))
	}

	batches := GroupIntoBatches(entities, 18)
	sizes := make([]int, len(batches))
	for i, b := range batches {
		sizes[i] = len(b.EntityIDs)
	}
	want := []int{18, 1, 18, 3}
	if len(sizes) != len(want) {
		t.Fatalf("batch count = %d, want %d (sizes %v)", len(sizes), len(want), sizes)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("batch %d size = %d, want %d", i, sizes[i], want[i])
		}
	}

	// Every entity lands in exactly one batch.
	seen := make(map[string]int)
	for _, b := range batches {
		for _, id := range b.EntityIDs {
			seen[id]++
		}
	}
	if len(seen) != 40 {
		t.Errorf("distinct entities = %d, want 40", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("entity %s appears %d times", id, n)
		}
	}
}

func TestGroupIntoBatches_UncategorizedCulture(t *testing.T) {
	batches := GroupIntoBatches([]*domain.Entity{entity("drifter", "", domain.ImportanceCommon)}, 18)
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	if batches[0].Culture != UncategorizedCulture {
		t.Errorf("culture = %q, want %q", batches[0].Culture, UncategorizedCulture)
	}
}

func TestGroupIntoBatches_DefaultBatchSize(t *testing.T) {
	var entities []*domain.Entity
	for i := 0; i < DefaultBatchSize+1; i++ {
		entities = append(entities, entity(fmt.Sprintf("e-%02d", i), "kin", domain.ImportanceCommon))
	}
	batches := GroupIntoBatches(entities, 0)
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	if len(batches[0].EntityIDs) != DefaultBatchSize {
		t.Errorf("first batch size = %d, want %d", len(batches[0].EntityIDs), DefaultBatchSize)
	}
}

func TestGroupIntoBatches_Empty(t *testing.T) {
	if batches := GroupIntoBatches(nil, 18); len(batches) != 0 {
		t.Errorf("batches = %d, want 0", len(batches))
	}
}

func TestGroupIntoBatches_AllPending(t *testing.T) {
	batches := GroupIntoBatches([]*domain.Entity{entity("a", "kin", domain.ImportanceCommon)}, 18)
	if batches[0].Status != domain.BatchPending {
		t.Errorf("status = %s, want pending", batches[0].Status)
	}
}
