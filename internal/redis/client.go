package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Client wraps a Redis connection for presence, typing mirrors, rate
// limiting and change-feed pub/sub.
type Client struct {
	rdb *goredis.Client
}

// NewClient creates a Redis client from a URL and verifies the connection.
func NewClient(redisURL string) (*Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

const (
	presencePrefix = "presence:"
	typingPrefix   = "typing:"

	// PresenceTTL is three client heartbeats; a status not refreshed within
	// it reads as offline.
	PresenceTTL = 90 * time.Second
	// TypingTTL matches the client-side typing inactivity window.
	TypingTTL = 3 * time.Second
)

// rateLimitScript atomically increments a counter, sets its TTL on first use
// and returns the count with the remaining window in milliseconds.
var rateLimitScript = goredis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

// CheckRateLimit runs a fixed-window counter for key. It returns whether the
// request is allowed, the count in the current window and the milliseconds
// until the window resets.
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, int64, int64, error) {
	res, err := rateLimitScript.Run(ctx, c.rdb, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, 0, fmt.Errorf("checking rate limit: %w", err)
	}
	if len(res) != 2 {
		return false, 0, 0, fmt.Errorf("checking rate limit: unexpected reply %v", res)
	}
	count, ttlMs := res[0], res[1]
	if ttlMs < 0 {
		ttlMs = window.Milliseconds()
	}
	return count <= int64(limit), count, ttlMs, nil
}

// SetPresence sets a user's presence status with PresenceTTL.
func (c *Client) SetPresence(ctx context.Context, userID int64, status string) error {
	return c.rdb.Set(ctx, presenceKey(userID), status, PresenceTTL).Err()
}

// GetPresence returns a user's presence status, or empty string if not set
// or expired.
func (c *Client) GetPresence(ctx context.Context, userID int64) (string, error) {
	val, err := c.rdb.Get(ctx, presenceKey(userID)).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting presence: %w", err)
	}
	return val, nil
}

// DeletePresence removes a user's presence status.
func (c *Client) DeletePresence(ctx context.Context, userID int64) error {
	return c.rdb.Del(ctx, presenceKey(userID)).Err()
}

// SetTyping marks a user as typing in a channel for TypingTTL.
func (c *Client) SetTyping(ctx context.Context, channelID, userID int64) error {
	return c.rdb.Set(ctx, typingKey(channelID, userID), 1, TypingTTL).Err()
}

// ClearTyping removes a typing mark. It reports whether one existed.
func (c *Client) ClearTyping(ctx context.Context, channelID, userID int64) (bool, error) {
	n, err := c.rdb.Del(ctx, typingKey(channelID, userID)).Result()
	if err != nil {
		return false, fmt.Errorf("clearing typing: %w", err)
	}
	return n > 0, nil
}

// GetTyping returns the user IDs currently typing in a channel.
func (c *Client) GetTyping(ctx context.Context, channelID int64) ([]int64, error) {
	prefix := typingPrefix + strconv.FormatInt(channelID, 10) + ":"
	pattern := prefix + "*"

	var userIDs []int64
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning typing keys: %w", err)
		}
		for _, key := range keys {
			uid, err := strconv.ParseInt(key[len(prefix):], 10, 64)
			if err != nil {
				continue
			}
			userIDs = append(userIDs, uid)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return userIDs, nil
}

// Publish sends payload on a pub/sub channel.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return nil
}

// PSubscribe opens a pattern subscription and waits for the server to
// confirm it.
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) (*goredis.PubSub, error) {
	ps := c.rdb.PSubscribe(ctx, patterns...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribing to %v: %w", patterns, err)
	}
	return ps, nil
}

func presenceKey(userID int64) string {
	return presencePrefix + strconv.FormatInt(userID, 10)
}

func typingKey(channelID, userID int64) string {
	return typingPrefix + strconv.FormatInt(channelID, 10) + ":" + strconv.FormatInt(userID, 10)
}
