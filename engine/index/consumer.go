package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/agentmesh/agentsearch/engine/domain"
	"github.com/agentmesh/agentsearch/pkg/natsutil"
)

const (
	// IndexedSubject carries registration and update events from the
	// directory service.
	IndexedSubject = "registry.agent.indexed"
	// RemovedSubject carries deregistration events.
	RemovedSubject = "registry.agent.removed"
	// DLQSubject receives index events that exhausted their retries.
	DLQSubject = "registry.agent.indexed.dlq"
	// MaxRetries before an index event is sent to the DLQ.
	MaxRetries = 3
)

// RemoveEvent is the payload on RemovedSubject.
type RemoveEvent struct {
	AgentID string `json:"agent_id"`
}

type dlqMessage struct {
	Event   domain.IndexRequest `json:"event"`
	Error   string              `json:"error"`
	Retries int                 `json:"retries"`
}

// retryHeader counts redeliveries of one index event.
const retryHeader = "X-Retry-Count"

// retryCount reads the retry header. Missing, malformed, or negative values
// count as a first delivery.
func retryCount(h nats.Header) int {
	if h == nil {
		return 0
	}
	v := h.Get(retryHeader)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// StartConsumer subscribes to directory events and keeps the index current.
// Index events are retried via re-publish with an incremented X-Retry-Count
// header and land on the DLQ after MaxRetries; permanent errors (bad request,
// unknown agent) skip retries and go straight to the DLQ. Remove events need
// no retry machinery since deletes are idempotent and cheap to re-deliver.
func StartConsumer(nc *nats.Conn, svc *Service, log *slog.Logger) ([]*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}

	indexSub, err := nc.Subscribe(IndexedSubject, func(msg *nats.Msg) {
		var req domain.IndexRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Error("index consumer: unmarshal failed", "error", err)
			return
		}

		ctx := context.Background()

		retries := retryCount(msg.Header)

		err := svc.IndexOne(ctx, req)
		if err == nil {
			log.Info("index consumer: agent indexed", "agent_id", req.AgentID)
			return
		}

		permanent := domain.IsValidation(err) || domain.IsNotFound(err)
		retries++
		log.Error("index consumer: index failed",
			"agent_id", req.AgentID,
			"error", err,
			"retry", retries,
			"permanent", permanent,
		)

		if permanent || retries >= MaxRetries {
			dlq := dlqMessage{Event: req, Error: err.Error(), Retries: retries}
			if pubErr := natsutil.Publish(ctx, nc, DLQSubject, dlq); pubErr != nil {
				log.Error("index consumer: DLQ publish failed", "error", pubErr)
			}
			return
		}

		retryMsg := nats.NewMsg(IndexedSubject)
		retryMsg.Data = msg.Data
		retryMsg.Header = nats.Header{}
		retryMsg.Header.Set(retryHeader, strconv.Itoa(retries))
		if pubErr := nc.PublishMsg(retryMsg); pubErr != nil {
			log.Error("index consumer: retry publish failed", "error", pubErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("index: subscribe %s: %w", IndexedSubject, err)
	}

	removeSub, err := natsutil.Subscribe(nc, RemovedSubject, func(ctx context.Context, ev RemoveEvent) {
		if err := svc.Remove(ctx, ev.AgentID); err != nil {
			log.Error("index consumer: remove failed", "agent_id", ev.AgentID, "error", err)
			return
		}
		log.Info("index consumer: agent removed", "agent_id", ev.AgentID)
	})
	if err != nil {
		indexSub.Unsubscribe()
		return nil, fmt.Errorf("index: subscribe %s: %w", RemovedSubject, err)
	}

	return []*nats.Subscription{indexSub, removeSub}, nil
}
