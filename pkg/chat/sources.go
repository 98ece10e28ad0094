package chat

import (
	"sort"

	"github.com/xhad/veritas/internal/models"
)

// Attribute lists the documents behind the fragments that were sent to the
// model, one reference per document with its best score, best first.
func Attribute(included models.RetrievedContext) []models.SourceReference {
	sources := make([]models.SourceReference, 0, len(included))
	pos := make(map[string]int, len(included))

	for _, c := range included {
		if i, ok := pos[c.DocumentID]; ok {
			if c.Score > sources[i].RelevanceScore {
				sources[i].RelevanceScore = c.Score
			}
			continue
		}
		pos[c.DocumentID] = len(sources)
		sources = append(sources, models.SourceReference{
			DocumentID:     c.DocumentID,
			Filename:       c.Filename,
			RelevanceScore: c.Score,
		})
	}

	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].RelevanceScore > sources[j].RelevanceScore
	})
	return sources
}
