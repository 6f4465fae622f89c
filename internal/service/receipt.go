package service

import (
	"context"
	"time"

	"github.com/victorivanov/backchannel/internal/database"
	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/models"
)

// ReceiptService records read receipts.
type ReceiptService struct {
	receipts  database.ReceiptRepository
	publisher feed.Publisher
	now       func() time.Time
}

// NewReceiptService creates a ReceiptService.
func NewReceiptService(receipts database.ReceiptRepository, pub feed.Publisher) *ReceiptService {
	return &ReceiptService{receipts: receipts, publisher: pub, now: time.Now}
}

// MarkRead records the caller as having read each message. Receipts are
// write-once: messages already read are skipped and only new receipts are
// returned and published.
func (s *ReceiptService) MarkRead(ctx context.Context, userID int64, messageIDs []int64) ([]models.ReadReceipt, error) {
	if len(messageIDs) == 0 {
		return []models.ReadReceipt{}, nil
	}
	if len(messageIDs) > models.MaxReceiptBatch {
		return nil, BadRequest("TOO_MANY_MESSAGES", "at most 500 messages per request")
	}

	seen := make(map[int64]bool, len(messageIDs))
	ids := make([]int64, 0, len(messageIDs))
	for _, id := range messageIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	written, err := s.receipts.MarkRead(ctx, userID, ids, s.now().UTC())
	if err != nil {
		return nil, internalError()
	}
	for _, r := range written {
		publish(ctx, s.publisher, feed.ReceiptAdded{Receipt: r})
	}
	if written == nil {
		written = []models.ReadReceipt{}
	}
	return written, nil
}
