package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/victorivanov/backchannel/internal/models"
	"github.com/victorivanov/backchannel/internal/service"
)

func newChannelHandler() *ChannelHandler {
	channels := &mockChannelRepo{
		GetByIDFn: func(_ context.Context, id int64) (*models.Channel, error) {
			if id == 2 {
				return &models.Channel{ID: 2, Slug: "random", Name: "random"}, nil
			}
			return nil, nil
		},
		GetBySlugFn: func(_ context.Context, slug string) (*models.Channel, error) {
			switch slug {
			case "general":
				return &models.Channel{ID: 1, Slug: "general", Name: "general"}, nil
			case "random":
				return &models.Channel{ID: 2, Slug: "random", Name: "random"}, nil
			}
			return nil, nil
		},
	}
	return NewChannelHandler(service.NewChannelService(channels))
}

func TestGetChannel(t *testing.T) {
	tests := []struct {
		name   string
		param  string
		wantID int64
	}{
		{"by id", "2", 2},
		{"by slug", "random", 2},
		{"unknown slug falls back", "nope", 1},
		{"unknown id falls back", "999", 1},
	}

	h := newChannelHandler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newTestContext(http.MethodGet, "/api/v1/channels/"+tt.param, nil)
			c.SetParamNames("id")
			c.SetParamValues(tt.param)
			setAuthUser(c, testUserID)

			if err := h.GetChannel(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			var ch models.Channel
			if err := json.Unmarshal(rec.Body.Bytes(), &ch); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if ch.ID != tt.wantID {
				t.Errorf("expected channel %d, got %d", tt.wantID, ch.ID)
			}
		})
	}
}
