// Package grouping partitions entities into ordered review batches.
// Related entities (same culture) land in adjacent batches and batch
// sizes stay uniform so per-batch API cost is predictable. Any
// deterministic partition would be correct; this ordering is for
// review ergonomics.
package grouping

import (
	"sort"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
)

// DefaultBatchSize is the target number of entities per batch
const DefaultBatchSize = 18

// UncategorizedCulture is the grouping key for entities without a culture
const UncategorizedCulture = "uncategorized"

// GroupIntoBatches partitions entities by culture, sorts each group by
// importance (most important first, unknown last; name breaks ties),
// and slices each group into chunks of batchSize. Every input entity
// appears in exactly one batch. A non-positive batchSize falls back to
// DefaultBatchSize.
func GroupIntoBatches(entities []*domain.Entity, batchSize int) []domain.Batch {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	groups := make(map[string][]*domain.Entity)
	var cultures []string
	for _, e := range entities {
		culture := e.Culture
		if culture == "" {
			culture = UncategorizedCulture
		}
		if _, seen := groups[culture]; !seen {
			cultures = append(cultures, culture)
		}
		groups[culture] = append(groups[culture], e)
	}
	sort.Strings(cultures)

	var batches []domain.Batch
	for _, culture := range cultures {
		group := groups[culture]
		sort.SliceStable(group, func(i, j int) bool {
			ri, rj := group[i].Importance.Rank(), group[j].Importance.Rank()
			if ri != rj {
				return ri < rj
			}
			return group[i].Name < group[j].Name
		})

		for start := 0; start < len(group); start += batchSize {
			end := start + batchSize
			if end > len(group) {
				end = len(group)
			}
			ids := make([]string, 0, end-start)
			for _, e := range group[start:end] {
				ids = append(ids, e.ID)
			}
			batches = append(batches, domain.Batch{
				Culture:   culture,
				EntityIDs: ids,
				Status:    domain.BatchPending,
			})
		}
	}

	return batches
}
