// Package backend implements chatsync.Backend against the HTTP API and
// directly against the services for in-process clients.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/victorivanov/backchannel/internal/chatsync"
	"github.com/victorivanov/backchannel/internal/metrics"
	"github.com/victorivanov/backchannel/internal/models"
)

// APIError is a non-retryable error response from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// HTTPConfig configures an HTTP backend.
type HTTPConfig struct {
	// BaseURL is the server root, for example http://localhost:8080.
	BaseURL string
	// Token is the bearer access token of the acting user.
	Token string
	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration
	// BreakerTimeout is how long the breaker stays open before probing
	// again. Defaults to 30s.
	BreakerTimeout time.Duration
}

// HTTP talks to /api/v1 as the user the token belongs to. Requests pass
// through a circuit breaker; connectivity failures, 5xx responses and an
// open breaker surface as chatsync.ErrTransient.
type HTTP struct {
	base   string
	token  string
	client *http.Client
	cb     *gobreaker.CircuitBreaker[[]byte]
}

var _ chatsync.Backend = (*HTTP)(nil)

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	name := "api"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors mean the server is up. A request the caller
		// cancelled says nothing about the server either.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || errors.Is(err, context.Canceled) ||
				(errors.As(err, &apiErr) && apiErr.Status < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &HTTP{
		base:   cfg.BaseURL + "/api/v1",
		token:  cfg.Token,
		client: &http.Client{Timeout: cfg.Timeout},
		cb:     cb,
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// do sends a request and decodes the response into out when out is not
// nil.
func (h *HTTP) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := h.cb.Execute(func() ([]byte, error) {
		return h.roundTrip(ctx, method, path, payload)
	})
	if err != nil {
		return h.classify(err)
	}
	metrics.CircuitBreakerRequests.WithLabelValues("api", "success").Inc()

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (h *HTTP) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.base+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var er struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &er) == nil && er.Error.Code != "" {
			apiErr.Code = er.Error.Code
			apiErr.Message = er.Error.Message
		}
		return nil, apiErr
	}
	return data, nil
}

// classify maps a failed call onto the chatsync error kinds.
func (h *HTTP) classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CircuitBreakerRequests.WithLabelValues("api", "rejected").Inc()
		return fmt.Errorf("%w: %w", chatsync.ErrTransient, err)
	}
	metrics.CircuitBreakerRequests.WithLabelValues("api", "failure").Inc()

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusConflict:
			return fmt.Errorf("%w: %w", chatsync.ErrConflictIgnored, err)
		case apiErr.Status >= 500:
			return fmt.Errorf("%w: %w", chatsync.ErrTransient, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", chatsync.ErrTransient, err)
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

func (h *HTTP) FetchChannel(ctx context.Context, ref string) (*models.Channel, error) {
	var ch models.Channel
	if err := h.do(ctx, http.MethodGet, "/channels/"+url.PathEscape(ref), nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListChannels returns every channel.
func (h *HTTP) ListChannels(ctx context.Context) ([]models.Channel, error) {
	var out []models.Channel
	if err := h.do(ctx, http.MethodGet, "/channels", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchMessages returns the channel's full history, one page at a time.
func (h *HTTP) FetchMessages(ctx context.Context, channelID int64) ([]models.Message, error) {
	return fetchHistory(ctx, func(ctx context.Context, before int64) ([]models.Message, error) {
		q := url.Values{"limit": {strconv.Itoa(models.MaxMessagePage)}}
		if before != 0 {
			q.Set("before", id(before))
		}
		var out []models.Message
		path := "/channels/" + id(channelID) + "/messages?" + q.Encode()
		if err := h.do(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}

func (h *HTTP) FetchMessage(ctx context.Context, messageID int64) (*models.Message, error) {
	var m models.Message
	if err := h.do(ctx, http.MethodGet, "/messages/"+id(messageID), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (h *HTTP) FetchProfile(ctx context.Context, userID int64) (*models.Profile, error) {
	var p models.Profile
	if err := h.do(ctx, http.MethodGet, "/users/"+id(userID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Me returns the profile of the acting user.
func (h *HTTP) Me(ctx context.Context) (*models.Profile, error) {
	var p models.Profile
	if err := h.do(ctx, http.MethodGet, "/users/@me", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (h *HTTP) FetchReactions(ctx context.Context, channelID int64) ([]models.Reaction, error) {
	var out []models.Reaction
	if err := h.do(ctx, http.MethodGet, "/channels/"+id(channelID)+"/reactions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *HTTP) FetchTyping(ctx context.Context, channelID int64) ([]models.TypingIndicator, error) {
	var out []models.TypingIndicator
	if err := h.do(ctx, http.MethodGet, "/channels/"+id(channelID)+"/typing", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type createMessageRequest struct {
	Content     string              `json:"content"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	ParentID    string              `json:"parent_id,omitempty"`
	Nonce       string              `json:"nonce,omitempty"`
}

func (h *HTTP) CreateMessage(ctx context.Context, draft models.MessageDraft) (*models.Message, error) {
	req := createMessageRequest{Content: draft.Content, Attachments: draft.Attachments, Nonce: draft.Nonce}
	if draft.ParentID != nil {
		req.ParentID = id(*draft.ParentID)
	}
	var m models.Message
	if err := h.do(ctx, http.MethodPost, "/channels/"+id(draft.ChannelID)+"/messages", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func reactionPath(messageID int64, emoji string) string {
	return "/messages/" + id(messageID) + "/reactions/" + url.PathEscape(emoji) + "/@me"
}

func (h *HTTP) AddReaction(ctx context.Context, messageID int64, emoji string) error {
	return h.do(ctx, http.MethodPut, reactionPath(messageID, emoji), nil, nil)
}

func (h *HTTP) RemoveReaction(ctx context.Context, messageID int64, emoji string) error {
	return h.do(ctx, http.MethodDelete, reactionPath(messageID, emoji), nil, nil)
}

func (h *HTTP) UpsertTyping(ctx context.Context, channelID int64) error {
	return h.do(ctx, http.MethodPut, "/channels/"+id(channelID)+"/typing", nil, nil)
}

func (h *HTTP) DeleteTyping(ctx context.Context, channelID int64) error {
	return h.do(ctx, http.MethodDelete, "/channels/"+id(channelID)+"/typing", nil, nil)
}

type markReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

func (h *HTTP) MarkRead(ctx context.Context, messageIDs []int64) ([]models.ReadReceipt, error) {
	req := markReadRequest{MessageIDs: make([]string, len(messageIDs))}
	for i, v := range messageIDs {
		req.MessageIDs[i] = id(v)
	}
	var out []models.ReadReceipt
	if err := h.do(ctx, http.MethodPost, "/receipts", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *HTTP) UpdatePresence(ctx context.Context, status string) error {
	body := map[string]string{"status": status}
	return h.do(ctx, http.MethodPut, "/users/@me/presence", body, nil)
}
