package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"docbridge/domain"
)

type wireEvent struct {
	ID     *int64 `json:"id"`
	Origin string `json:"origin"`
}

func encodeEvent(ev JobIDChanged, origin string) ([]byte, error) {
	w := wireEvent{Origin: origin}
	if ev.ID.Valid {
		v := ev.ID.Value
		w.ID = &v
	}
	return json.Marshal(w)
}

func decodeEvent(payload string) (JobIDChanged, error) {
	var w wireEvent
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return JobIDChanged{}, err
	}
	ev := JobIDChanged{Origin: w.Origin}
	if w.ID != nil {
		ev.ID = domain.NewJobID(*w.ID)
	}
	return ev, nil
}

// RedisMirror relays job-id changes between processes sharing a Redis store, so a CLI chat
// session sees the id produced by an upload running elsewhere. Local events are published with
// this mirror's origin; remote events are re-published locally with theirs, and are never
// forwarded again.
type RedisMirror struct {
	rdb     *redis.Client
	local   *Bus
	channel string
	origin  string
	logger  *slog.Logger
}

func NewRedisMirror(rdb *redis.Client, local *Bus, channel string, logger *slog.Logger) *RedisMirror {
	if channel == "" {
		channel = "docbridge:" + Topic
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisMirror{
		rdb:     rdb,
		local:   local,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

func (m *RedisMirror) Origin() string { return m.origin }

// Run relays events until ctx is done.
func (m *RedisMirror) Run(ctx context.Context) error {
	unsubscribe := m.local.Subscribe(func(ev JobIDChanged) {
		if ev.Origin != "" {
			return
		}
		b, err := encodeEvent(ev, m.origin)
		if err != nil {
			m.logger.Error("bus.mirror.encode_error", "error", err)
			return
		}
		pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.rdb.Publish(pctx, m.channel, b).Err(); err != nil {
			m.logger.Warn("bus.mirror.publish_error", "channel", m.channel, "error", err)
		}
	})
	defer unsubscribe()

	sub := m.rdb.Subscribe(ctx, m.channel)
	defer func() { _ = sub.Close() }()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", m.channel, err)
	}

	m.logger.Info("bus.mirror.start", "channel", m.channel, "origin", m.origin)
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := decodeEvent(msg.Payload)
			if err != nil {
				m.logger.Warn("bus.mirror.decode_error", "error", err)
				continue
			}
			if ev.Origin == "" || ev.Origin == m.origin {
				continue
			}
			m.local.Publish(ev)
		}
	}
}
