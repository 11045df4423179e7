package automations

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/windlass-io/windlass/internal/controlplane/metrics"
	"github.com/windlass-io/windlass/internal/telemetry"
)

const (
	defaultActionTimeout = 30 * time.Second
	seenRetention        = 24 * time.Hour
)

// Executor runs triggered actions on a bounded worker pool. Enqueue never
// blocks the evaluation path; invocation ids already executed are skipped,
// so redelivered firings are harmless.
type Executor struct {
	rt      *Runtime
	queue   chan *TriggeredAction
	workers int
	timeout time.Duration
	logger  *zap.Logger

	mu   sync.Mutex
	seen map[string]time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewExecutor creates an action executor. workers and queueSize are
// clamped to sane minimums.
func NewExecutor(rt *Runtime, workers, queueSize int, logger *zap.Logger) *Executor {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		rt:      rt,
		queue:   make(chan *TriggeredAction, queueSize),
		workers: workers,
		timeout: defaultActionTimeout,
		logger:  logger,
		seen:    make(map[string]time.Time),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the worker pool.
func (x *Executor) Start() {
	x.startOnce.Do(func() {
		for i := 0; i < x.workers; i++ {
			x.wg.Add(1)
			go x.work()
		}
		x.logger.Info("action executor started", zap.Int("workers", x.workers))
	})
}

// Stop drains nothing; it halts workers after their current action.
func (x *Executor) Stop() {
	x.stopOnce.Do(func() {
		close(x.stopCh)
		x.wg.Wait()
		x.logger.Info("action executor stopped")
	})
}

// Enqueue hands an action to the pool. On a full queue the action is
// dropped and counted; evaluation must never stall behind slow actions.
func (x *Executor) Enqueue(ta *TriggeredAction) {
	select {
	case x.queue <- ta:
	default:
		metrics.ActionsDroppedTotal.Inc()
		x.logger.Error("executor queue full, dropping action",
			zap.String("invocation", ta.ID),
			zap.String("automation_id", ta.AutomationID),
			zap.String("action", ta.Action.Kind()),
		)
	}
}

func (x *Executor) work() {
	defer x.wg.Done()
	for {
		select {
		case <-x.stopCh:
			return
		case ta := <-x.queue:
			x.Execute(ta)
		}
	}
}

// Execute runs one triggered action to completion, recording the outcome.
// Exported so tests can run actions synchronously.
func (x *Executor) Execute(ta *TriggeredAction) {
	if !x.claim(ta.ID) {
		x.logger.Debug("invocation already executed, skipping",
			zap.String("invocation", ta.ID),
		)
		return
	}

	ta.Status = StatusActing
	ctx, cancel := context.WithTimeout(context.Background(), x.timeout)
	defer cancel()
	ctx, span := telemetry.StartActionSpan(ctx, ta.Action.Kind(), ta.ID, ta.AutomationID)

	outcome, err := x.act(ctx, ta)
	if err != nil {
		ta.Status = StatusFailed
		telemetry.EndActionSpan(span, string(StatusFailed), err.Error())
		metrics.ActionsTotal.WithLabelValues(ta.Action.Kind(), string(StatusFailed)).Inc()
		x.logger.Warn("action failed",
			zap.String("invocation", ta.ID),
			zap.String("automation_id", ta.AutomationID),
			zap.String("action", ta.Action.Kind()),
			zap.Error(err),
		)
		if ferr := ta.Action.Fail(ctx, ta, err.Error(), x.rt); ferr != nil {
			x.logger.Error("recording action failure", zap.Error(ferr))
		}
		return
	}

	ta.Status = StatusSucceeded
	telemetry.EndActionSpan(span, string(StatusSucceeded), "")
	metrics.ActionsTotal.WithLabelValues(ta.Action.Kind(), string(StatusSucceeded)).Inc()
	if serr := ta.Action.Succeed(ctx, ta, outcome, x.rt); serr != nil {
		x.logger.Error("recording action success", zap.Error(serr))
	}
}

// act invokes the action, converting a panic into an ordinary failure so
// one broken action cannot take down a worker. Mirrors the containment
// the engine applies per-automation during evaluation.
func (x *Executor) act(ctx context.Context, ta *TriggeredAction) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return ta.Action.Act(ctx, ta, x.rt)
}

// claim marks an invocation id as executed. Returns false when it was
// already claimed. Old entries are pruned opportunistically.
func (x *Executor) claim(id string) bool {
	now := time.Now()
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.seen[id]; ok {
		return false
	}
	if len(x.seen) > 0 && len(x.seen)%1024 == 0 {
		cutoff := now.Add(-seenRetention)
		for k, at := range x.seen {
			if at.Before(cutoff) {
				delete(x.seen, k)
			}
		}
	}
	x.seen[id] = now
	return true
}
