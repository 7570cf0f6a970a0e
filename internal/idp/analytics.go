package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/karmaly/authloader/internal/identity"
)

const analyticsStreamPrefix = "analytics:"

// Analytics records events for one app.
type Analytics struct {
	app    *App
	events *redis.Client
	stream string
	logger *slog.Logger
}

var _ identity.AnalyticsModule = (*Analytics)(nil)

func newAnalytics(app *App, events *redis.Client, logger *slog.Logger) *Analytics {
	return &Analytics{
		app:    app,
		events: events,
		stream: analyticsStreamPrefix + app.cfg.MeasurementID,
		logger: logger.With("component", "analytics", "measurement_id", app.cfg.MeasurementID),
	}
}

// Stream is the Redis stream events are appended to.
func (a *Analytics) Stream() string { return a.stream }

// LogEvent logs the event and, when a Redis client is configured, appends it
// to the app's stream.
func (a *Analytics) LogEvent(ctx context.Context, name string, params map[string]any) error {
	if name == "" {
		return errors.New("analytics: event name is required")
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("analytics: encode params: %w", err)
	}
	a.logger.Info("analytics event", "event", name, "params", string(payload))
	if a.events == nil {
		return nil
	}
	err = a.events.XAdd(ctx, &redis.XAddArgs{
		Stream: a.stream,
		Values: map[string]any{
			"event":  name,
			"params": string(payload),
			"app":    a.app.name,
			"at":     time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("analytics: append event: %w", err)
	}
	return nil
}
