package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/groupmind/internal/knowledge"
	"github.com/kalambet/groupmind/internal/storage"
)

// ExportStats aggregates a group's knowledge and answer history.
type ExportStats struct {
	Entries       int            `json:"entries"`
	AvgConfidence float64        `json:"avg_confidence"`
	Interactions  int            `json:"interactions"`
	Positive      int            `json:"positive_feedback"`
	Negative      int            `json:"negative_feedback"`
	BySource      map[string]int `json:"answers_by_source"`
}

// Export is the downloadable snapshot of everything stored for a group.
type Export struct {
	Group      storage.Group            `json:"group"`
	Knowledge  []storage.KnowledgeEntry `json:"knowledge"`
	Stats      ExportStats              `json:"stats"`
	ExportedAt time.Time                `json:"exported_at"`
}

// ExportSource is what BuildExport reads from. Implemented by storage.Store.
type ExportSource interface {
	GetGroup(id int64) (storage.Group, error)
	GetInteractionStats(groupID int64) (storage.InteractionStats, error)
}

// BuildExport assembles the export document for a group.
func BuildExport(ctx context.Context, src ExportSource, ks *knowledge.Service, groupID int64) (Export, error) {
	g, err := src.GetGroup(groupID)
	if err != nil {
		return Export{}, fmt.Errorf("loading group %d: %w", groupID, err)
	}
	entries, err := ks.List(ctx, groupID)
	if err != nil {
		return Export{}, fmt.Errorf("listing knowledge: %w", err)
	}
	if entries == nil {
		entries = []storage.KnowledgeEntry{}
	}
	ist, err := src.GetInteractionStats(groupID)
	if err != nil {
		return Export{}, err
	}

	stats := ExportStats{
		Entries:      len(entries),
		Interactions: ist.Total,
		Positive:     ist.Positive,
		Negative:     ist.Negative,
		BySource:     ist.BySource,
	}
	var sum float64
	for _, e := range entries {
		sum += e.Confidence
	}
	if len(entries) > 0 {
		stats.AvgConfidence = sum / float64(len(entries))
	}

	return Export{
		Group:      g,
		Knowledge:  entries,
		Stats:      stats,
		ExportedAt: time.Now().UTC(),
	}, nil
}

// Export builds the export document for a group.
func (b *Bot) Export(ctx context.Context, groupID int64) (Export, error) {
	return BuildExport(ctx, b.store, b.knowledge, groupID)
}
