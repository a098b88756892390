package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/agencyhub/api/internal/metrics"
	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/logger"
)

// StatusChannel is the pub/sub channel carrying analysis status events from
// workers to every API instance.
const StatusChannel = "analysis:status"

// StatusNotifier publishes analysis status events and relays them to local
// subscribers such as the websocket hub.
type StatusNotifier struct {
	client *Client
	logger *logger.Logger
}

// NewStatusNotifier creates a new StatusNotifier.
func NewStatusNotifier(client *Client, log *logger.Logger) *StatusNotifier {
	return &StatusNotifier{
		client: client,
		logger: log.With("component", "status_notifier"),
	}
}

// PublishAnalysisStatus publishes ev on StatusChannel.
func (n *StatusNotifier) PublishAnalysisStatus(ctx context.Context, ev analysis.StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	if err := n.client.client.Publish(ctx, StatusChannel, data).Err(); err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	metrics.StatusEventsRelayed.WithLabelValues("published").Inc()
	n.logger.Debug("published analysis status",
		"job_id", ev.JobID.String(),
		"status", ev.Status,
		"final", ev.Final,
	)
	return nil
}

// Listen subscribes to StatusChannel and calls handle for every event until
// ctx is cancelled.
func (n *StatusNotifier) Listen(ctx context.Context, handle func(analysis.StatusEvent)) error {
	pubsub := n.client.client.Subscribe(ctx, StatusChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", StatusChannel, err)
	}
	n.logger.Info("listening for analysis status events", "channel", StatusChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("status listener stopping")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("%s subscription closed", StatusChannel)
			}
			n.relay(msg, handle)
		}
	}
}

func (n *StatusNotifier) relay(msg *redis.Message, handle func(analysis.StatusEvent)) {
	ev, err := DecodeStatusEvent(msg.Payload)
	if err != nil {
		metrics.StatusEventsRelayed.WithLabelValues("dropped").Inc()
		n.logger.Warn("dropping malformed status event", "error", err)
		return
	}
	metrics.StatusEventsRelayed.WithLabelValues("received").Inc()
	handle(ev)
}

// DecodeStatusEvent parses a published event. Events without a job or an
// agency are rejected because they cannot be routed to a tenant channel.
func DecodeStatusEvent(payload string) (analysis.StatusEvent, error) {
	var ev analysis.StatusEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("unmarshal status event: %w", err)
	}
	if ev.JobID.IsZero() || ev.AgencyID.IsZero() {
		return ev, fmt.Errorf("status event is missing job or agency id")
	}
	if !ev.Status.IsValid() {
		return ev, fmt.Errorf("status event has invalid status %q", ev.Status)
	}
	return ev, nil
}
