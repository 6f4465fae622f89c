package database

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/victorivanov/backchannel/internal/models"
)

// testPool returns a pgxpool.Pool connected to the test database.
// It skips the test if DATABASE_URL is not set.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

// testIDCounter provides unique IDs across all tests in the package.
// Seeded from the clock so reruns against the same database do not collide.
var testIDCounter = time.Now().UnixNano() / 1000

func nextID() int64 {
	return atomic.AddInt64(&testIDCounter, 1)
}

// ---- Fixtures ----

func createTestProfile(t *testing.T, pool *pgxpool.Pool) *models.Profile {
	t.Helper()
	id := nextID()
	p := &models.Profile{
		ID:          id,
		Username:    fmt.Sprintf("user_%d", id),
		DisplayName: fmt.Sprintf("User %d", id),
		Status:      models.StatusOffline,
		CreatedAt:   time.Now().Truncate(time.Microsecond),
	}
	if err := NewProfileRepository(pool).Create(context.Background(), p); err != nil {
		t.Fatalf("creating test profile: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM profiles WHERE id = $1`, id)
	})
	return p
}

func createTestChannel(t *testing.T, pool *pgxpool.Pool) *models.Channel {
	t.Helper()
	id := nextID()
	ch := &models.Channel{ID: id, Slug: fmt.Sprintf("ch-%d", id), Name: fmt.Sprintf("channel %d", id)}
	if err := NewChannelRepository(pool).Create(context.Background(), ch); err != nil {
		t.Fatalf("creating test channel: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM channels WHERE id = $1`, id)
	})
	return ch
}

func createTestMessage(t *testing.T, pool *pgxpool.Pool, channelID, authorID int64, content string, at time.Time) *models.Message {
	t.Helper()
	msg := &models.Message{
		ID:        nextID(),
		ChannelID: channelID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: at.Truncate(time.Microsecond),
	}
	if _, err := NewMessageRepository(pool).Create(context.Background(), msg); err != nil {
		t.Fatalf("creating test message: %v", err)
	}
	return msg
}
