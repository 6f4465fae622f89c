package models

import "time"

// MaxReceiptBatch caps the message IDs in one mark-read request.
const MaxReceiptBatch = 500

// ReadReceipt records that a user has seen a message. Receipts are
// write-once: the first ReadAt for a (MessageID, UserID) pair wins.
type ReadReceipt struct {
	MessageID int64     `json:"message_id,string"`
	UserID    int64     `json:"user_id,string"`
	ReadAt    time.Time `json:"read_at"`
}
