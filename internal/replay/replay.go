// Package replay re-issues queued actions once connectivity returns.
package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/fieldsync/internal/action"
	"github.com/austindbirch/fieldsync/internal/client"
	"github.com/austindbirch/fieldsync/internal/deadletter"
	"github.com/austindbirch/fieldsync/internal/logging"
	"github.com/austindbirch/fieldsync/internal/metrics"
	"github.com/austindbirch/fieldsync/internal/queue"
	"github.com/austindbirch/fieldsync/internal/tracing"
)

// ErrPassInProgress is returned by Trigger while another pass is running. The
// request is not lost: the running pass is followed by one more.
var ErrPassInProgress = errors.New("replay: pass already in progress")

const (
	TriggerDirect = "direct"
	TriggerManual = "manual"
	TriggerOnline = "online"
	// TriggerFollowUp is a pass run because a trigger arrived mid-pass.
	TriggerFollowUp = "follow_up"
)

// Policy is the opt-in retry policy. The zero value retains every failed
// action forever.
type Policy struct {
	// MaxAttempts dead-letters an action after this many failed replays in
	// this process. Zero means unlimited.
	MaxAttempts int
	// DropPermanent dead-letters actions the server rejects with a 4xx other
	// than 408 or 429.
	DropPermanent bool
}

// Result summarises one pass.
type Result struct {
	Attempted    int           `json:"attempted"`
	Delivered    int           `json:"delivered"`
	Retained     int           `json:"retained"`
	DeadLettered int           `json:"dead_lettered"`
	Duration     time.Duration `json:"duration"`
}

type Replayer struct {
	queue  *queue.Queue
	sender client.Sender
	policy Policy
	sink   deadletter.Sink
	logger *logging.Logger

	passMu  sync.Mutex
	pending atomic.Bool // a trigger arrived while passMu was held

	attemptsMu sync.Mutex
	attempts   map[string]int
}

func New(q *queue.Queue, sender client.Sender, policy Policy, sink deadletter.Sink, logger *logging.Logger) *Replayer {
	if logger == nil {
		logger = logging.Default()
	}
	if sink == nil {
		sink = deadletter.LogSink{Logger: logger}
	}
	return &Replayer{
		queue:    q,
		sender:   sender,
		policy:   policy,
		sink:     sink,
		logger:   logger,
		attempts: make(map[string]int),
	}
}

// Pass runs one replay pass, waiting for any pass already in flight to finish
// first.
func (r *Replayer) Pass(ctx context.Context) (Result, error) {
	r.passMu.Lock()
	return r.run(ctx, TriggerDirect)
}

// Trigger runs one replay pass unless one is already running.
func (r *Replayer) Trigger(ctx context.Context) (Result, error) {
	return r.try(ctx, TriggerManual)
}

// OnConnectivity is the monitor callback. Going offline needs no work; going
// online starts a pass.
func (r *Replayer) OnConnectivity(online bool) {
	if !online {
		return
	}
	res, err := r.try(context.Background(), TriggerOnline)
	switch {
	case errors.Is(err, ErrPassInProgress):
		r.logger.Plain().Debug("replay already running, follow-up pass scheduled")
	default:
		r.logResult(TriggerOnline, res, err)
	}
}

func (r *Replayer) try(ctx context.Context, trigger string) (Result, error) {
	if !r.passMu.TryLock() {
		r.pending.Store(true)
		// The holder may have unlocked before it could see pending.
		if !r.passMu.TryLock() {
			return Result{}, ErrPassInProgress
		}
	}
	return r.run(ctx, trigger)
}

// run is called with passMu held and releases it. Triggers that were turned
// away while the pass ran get one follow-up pass each time the lock is freed,
// so actions queued during the pass are not stranded.
func (r *Replayer) run(ctx context.Context, trigger string) (Result, error) {
	r.pending.Store(false)
	res, err := r.pass(ctx, trigger)
	r.passMu.Unlock()

	for r.pending.Load() && r.passMu.TryLock() {
		r.pending.Store(false)
		fres, ferr := r.pass(ctx, TriggerFollowUp)
		r.passMu.Unlock()
		r.logResult(TriggerFollowUp, fres, ferr)
	}
	return res, err
}

func (r *Replayer) logResult(trigger string, res Result, err error) {
	log := r.logger.Plain().WithField("trigger", trigger)
	if err != nil {
		log.WithError(err).Error("replay pass failed")
		return
	}
	log.WithFields(map[string]any{
		"attempted": res.Attempted,
		"delivered": res.Delivered,
		"retained":  res.Retained,
	}).Info("replay pass complete")
}

// pass walks a snapshot of the queue in order. Once started it is not
// cancelled; the caller's context only carries trace and values.
func (r *Replayer) pass(ctx context.Context, trigger string) (Result, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "replay.pass", attribute.String("trigger", trigger))
	defer span.End()

	batch, err := r.queue.Drain(ctx)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{}, fmt.Errorf("drain queue: %w", err)
	}

	res := Result{}
	retained := make([]action.Action, 0, len(batch.Actions))
	for _, a := range batch.Actions {
		res.Attempted++
		switch r.replayOne(ctx, a) {
		case outcomeDelivered:
			res.Delivered++
		case outcomeDeadLettered:
			res.DeadLettered++
		default:
			res.Retained++
			retained = append(retained, a)
		}
	}

	if err := batch.Commit(ctx, retained); err != nil {
		tracing.SetSpanError(ctx, err)
		return res, fmt.Errorf("commit replay: %w", err)
	}
	r.forgetExcept(retained)

	res.Duration = time.Since(start)
	metrics.RecordPass(trigger, res.Duration)
	if n, err := r.queue.Len(ctx); err == nil {
		metrics.SetQueueDepth(n)
	}
	span.SetAttributes(
		attribute.Int("attempted", res.Attempted),
		attribute.Int("delivered", res.Delivered),
		attribute.Int("retained", res.Retained),
		attribute.Int("dead_lettered", res.DeadLettered),
	)
	return res, nil
}

type outcome int

const (
	outcomeRetained outcome = iota
	outcomeDelivered
	outcomeDeadLettered
)

func (r *Replayer) replayOne(ctx context.Context, a action.Action) outcome {
	ctx, span := tracing.StartSpan(ctx, "replay.action",
		attribute.String("action_id", a.ID),
		attribute.String("http.method", a.Method()),
		attribute.String("endpoint", a.Endpoint),
	)
	defer span.End()
	log := r.logger.WithContext(ctx).WithAction(a.ID).WithRequest(a.Method(), a.Endpoint)

	_, err := r.sender.Send(ctx, a)
	if err == nil {
		metrics.RecordReplayOutcome("delivered")
		log.Info("replayed action delivered")
		return outcomeDelivered
	}

	reason, status := Classify(err)
	metrics.RecordReplayFailure(reason)
	tracing.SetSpanError(ctx, err)
	attempt := r.recordAttempt(a.ID)

	if why := r.giveUp(attempt, status); why != "" {
		dl := deadletter.New(a, attempt, status, err.Error(), why)
		if pubErr := r.sink.Publish(ctx, dl); pubErr != nil {
			// Nothing durable holds the action if the sink is down, so it
			// stays queued.
			log.WithError(pubErr).Error("dead letter publish failed, retaining action")
			metrics.RecordReplayOutcome("retained")
			return outcomeRetained
		}
		tracing.AddSpanEvent(ctx, "replay.dead_lettered", attribute.String("reason", why))
		metrics.RecordDeadLetter(reason)
		metrics.RecordReplayOutcome("dead_lettered")
		log.WithField("reason", why).WithField("attempt", attempt).Warn("action dead-lettered")
		return outcomeDeadLettered
	}

	metrics.RecordReplayOutcome("retained")
	log.WithError(err).WithField("reason", reason).WithField("attempt", attempt).Warn("replay failed, action retained")
	return outcomeRetained
}

// giveUp returns the dead-letter reason, or "" to keep the action.
func (r *Replayer) giveUp(attempt, status int) string {
	if r.policy.DropPermanent && Permanent(status) {
		return fmt.Sprintf("permanent rejection: %d", status)
	}
	if r.policy.MaxAttempts > 0 && attempt >= r.policy.MaxAttempts {
		return "max attempts exceeded"
	}
	return ""
}

func (r *Replayer) recordAttempt(id string) int {
	r.attemptsMu.Lock()
	defer r.attemptsMu.Unlock()
	r.attempts[id]++
	return r.attempts[id]
}

// Attempts reports how many times the action with id has failed replay.
func (r *Replayer) Attempts(id string) int {
	r.attemptsMu.Lock()
	defer r.attemptsMu.Unlock()
	return r.attempts[id]
}

// forgetExcept drops counters for actions that left the queue.
func (r *Replayer) forgetExcept(retained []action.Action) {
	keep := make(map[string]struct{}, len(retained))
	for _, a := range retained {
		keep[a.ID] = struct{}{}
	}
	r.attemptsMu.Lock()
	defer r.attemptsMu.Unlock()
	for id := range r.attempts {
		if _, ok := keep[id]; !ok {
			delete(r.attempts, id)
		}
	}
}

// Permanent reports whether a status will not change on retry.
func Permanent(status int) bool {
	return status >= 400 && status < 500 && status != 408 && status != 429
}

// Classify maps a send error to a metric reason and the upstream status, if
// any.
func Classify(err error) (string, int) {
	if err == nil {
		return "other", 0
	}
	var se *client.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Status >= 500:
			return "http_5xx", se.Status
		case se.Status == 429:
			return "http_429", se.Status
		case se.Status >= 400:
			return "http_4xx", se.Status
		}
		return "other", se.Status
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", 0
	}
	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "timeout"):
		return "timeout", 0
	case strings.Contains(errLower, "connection refused"):
		return "connection_refused", 0
	case strings.Contains(errLower, "no such host"), strings.Contains(errLower, "dns"):
		return "dns_error", 0
	}
	return "network", 0
}
