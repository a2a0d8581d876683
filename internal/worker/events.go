package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/clock"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/logger"
)

// EventsChannel is the Redis pub/sub channel campaign lifecycle events go
// out on. Dashboards and CLI watchers subscribe to it; delivery is best
// effort and nothing in the send path ever waits on a subscriber.
const EventsChannel = "morsel:campaign_events"

// Event types.
const (
	EventStatusChanged = "status_changed"
	EventBreakStarted  = "break_started"
	EventBreakEnded    = "break_ended"
)

// Event is one campaign lifecycle notification.
type Event struct {
	Type       string `json:"type"`
	CampaignID string `json:"campaign_id"`
	OwnerID    string `json:"owner_id,omitempty"`
	Status     string `json:"status,omitempty"`

	// Break details, set on break_started.
	DurationSeconds int `json:"duration_seconds,omitempty"`
	NextThreshold   int `json:"next_threshold,omitempty"`

	At time.Time `json:"at"`
}

// Publisher pushes events to Redis pub/sub. Publishes run on their own
// goroutine with a short timeout; failures are logged and dropped. A nil
// Publisher or a Publisher without a Redis client discards everything.
type Publisher struct {
	rdb *redis.Client
	clk clock.Clock
}

// NewPublisher creates an event publisher. rdb may be nil.
func NewPublisher(rdb *redis.Client, clk clock.Clock) *Publisher {
	if clk == nil {
		clk = clock.New()
	}
	return &Publisher{rdb: rdb, clk: clk}
}

// Publish sends one event, fire and forget.
func (p *Publisher) Publish(ev Event) {
	if p == nil || p.rdb == nil {
		return
	}
	ev.At = p.clk.Now()

	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("event marshal failed", "type", ev.Type, "campaign_id", ev.CampaignID, "error", err.Error())
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.rdb.Publish(ctx, EventsChannel, payload).Err(); err != nil {
			logger.Warn("event publish failed", "type", ev.Type, "campaign_id", ev.CampaignID, "error", err.Error())
		}
	}()
}
