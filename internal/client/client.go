// Package client is the façade the app uses for REST calls. Calls made while
// the device is offline are captured in the queue instead of failing.
package client

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/fieldsync/internal/action"
	"github.com/austindbirch/fieldsync/internal/logging"
	"github.com/austindbirch/fieldsync/internal/metrics"
	"github.com/austindbirch/fieldsync/internal/queue"
	"github.com/austindbirch/fieldsync/internal/tracing"
)

// ErrQueued means the request was stored for replay instead of being sent.
var ErrQueued = errors.New("offline: request queued for replay")

// Connectivity is the read side of the connectivity monitor.
type Connectivity interface {
	Online() bool
}

// Checker is implemented by monitors that can re-probe on demand. After a
// transport failure the client asks for a fresh answer instead of waiting for
// the next scheduled probe.
type Checker interface {
	Check(ctx context.Context) bool
}

type Client struct {
	sender Sender
	queue  *queue.Queue
	conn   Connectivity
	logger *logging.Logger
}

func New(sender Sender, q *queue.Queue, conn Connectivity, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{sender: sender, queue: q, conn: conn, logger: logger}
}

// Do issues the request. It returns the queued action and ErrQueued when the
// device is offline, or when the transport fails and a recheck finds the
// device offline. Any reply from the server, including 4xx and 5xx, is
// returned to the caller and never queued.
func (c *Client) Do(ctx context.Context, endpoint string, opts action.Options) (*Response, action.Action, error) {
	a := action.New(endpoint, opts)
	ctx, span := tracing.StartSpan(ctx, "client.Do",
		attribute.String("http.method", a.Method()),
		attribute.String("endpoint", endpoint),
	)
	defer span.End()

	if !c.conn.Online() {
		tracing.AddSpanEvent(ctx, "client.offline")
		return c.enqueue(ctx, a, nil)
	}

	resp, err := c.sender.Send(ctx, a)
	if err == nil {
		return resp, action.Action{}, nil
	}
	var se *StatusError
	if errors.As(err, &se) {
		span.SetAttributes(attribute.Int("http.status_code", se.Status))
		return resp, action.Action{}, err
	}
	if !c.recheck(ctx) {
		return c.enqueue(ctx, a, err)
	}
	tracing.SetSpanError(ctx, err)
	return nil, action.Action{}, err
}

func (c *Client) recheck(ctx context.Context) bool {
	if ch, ok := c.conn.(Checker); ok {
		return ch.Check(ctx)
	}
	return c.conn.Online()
}

func (c *Client) enqueue(ctx context.Context, a action.Action, cause error) (*Response, action.Action, error) {
	queued, err := c.queue.Enqueue(ctx, a)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		c.logger.WithContext(ctx).WithAction(a.ID).WithRequest(a.Method(), a.Endpoint).WithError(err).Error("failed to queue offline request")
		return nil, action.Action{}, errors.Join(cause, err)
	}
	metrics.RecordEnqueued(queued.Method())
	if n, err := c.queue.Len(ctx); err == nil {
		metrics.SetQueueDepth(n)
	}
	tracing.AddSpanEvent(ctx, "client.queued", attribute.String("action_id", queued.ID))
	c.logger.WithContext(ctx).WithAction(queued.ID).WithRequest(queued.Method(), queued.Endpoint).WithError(cause).Info("request queued for replay")
	return nil, queued, ErrQueued
}
