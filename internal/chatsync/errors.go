package chatsync

import "errors"

var (
	// ErrTransient reports a write or subscribe that failed on connectivity.
	// The optimistic effect, if any, has been rolled back.
	ErrTransient = errors.New("chatsync: transient failure")

	// ErrConflictIgnored reports a duplicate write against a unique
	// constraint. Callers treat it as success.
	ErrConflictIgnored = errors.New("chatsync: duplicate ignored")

	// ErrUnknownReference reports an operation on a message that is not held
	// locally.
	ErrUnknownReference = errors.New("chatsync: unknown reference")

	// ErrSubscriptionDropped reports a lost change feed. The channel is
	// reloaded in full once the feed is back.
	ErrSubscriptionDropped = errors.New("chatsync: subscription dropped")

	ErrNoChannel  = errors.New("chatsync: no channel open")
	ErrEmptyDraft = errors.New("chatsync: message has no content or attachments")
	ErrClosed     = errors.New("chatsync: client stopped")
)

// ignoreConflict maps ErrConflictIgnored to success.
func ignoreConflict(err error) error {
	if errors.Is(err, ErrConflictIgnored) {
		return nil
	}
	return err
}
