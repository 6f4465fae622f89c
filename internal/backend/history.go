package backend

import (
	"context"
	"slices"

	"github.com/victorivanov/backchannel/internal/models"
)

// pageFunc returns the newest page of history older than before, or the
// newest page when before is zero.
type pageFunc func(ctx context.Context, before int64) ([]models.Message, error)

// fetchHistory walks a channel's history from the newest page back until a
// short page and returns the whole set in display order. Messages created
// while it walks only land on the newest page, which the change feed covers.
func fetchHistory(ctx context.Context, page pageFunc) ([]models.Message, error) {
	var (
		all    []models.Message
		before int64
	)
	for {
		msgs, err := page(ctx, before)
		if err != nil {
			return nil, err
		}
		all = slices.Concat(msgs, all)
		if len(msgs) < models.MaxMessagePage {
			return all, nil
		}
		before = msgs[0].ID
	}
}
