package automations

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/windlass-io/windlass/internal/controlplane/events"
	"github.com/windlass-io/windlass/internal/controlplane/metrics"
)

const defaultSweepGranularity = time.Second

// Engine evaluates every enabled automation against the event stream and
// sweeps proactive deadlines. Observe is called synchronously from the
// ingest path so evaluation sees every accepted event exactly once.
type Engine struct {
	store      *Store
	dispatcher *Dispatcher
	windows    *windowSet
	logger     *zap.Logger

	granularity time.Duration
	now         func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped chan struct{}
	running bool
}

// NewEngine creates an evaluation engine over the automation store.
func NewEngine(store *Store, dispatcher *Dispatcher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:       store,
		dispatcher:  dispatcher,
		windows:     newWindowSet(),
		logger:      logger,
		granularity: defaultSweepGranularity,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetGranularity adjusts the proactive sweep interval. Values below 100ms
// are clamped.
func (e *Engine) SetGranularity(d time.Duration) {
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	e.granularity = d
}

// SetClock replaces the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Start launches the proactive sweep loop.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.stopped = make(chan struct{})
	go e.sweepLoop(e.stopCh, e.stopped)
	e.logger.Info("automation engine started",
		zap.Duration("granularity", e.granularity),
	)
}

// Stop halts the sweep loop and waits for it to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	stopped := e.stopped
	e.mu.Unlock()
	<-stopped
	e.logger.Info("automation engine stopped")
}

func (e *Engine) sweepLoop(stopCh, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(e.granularity)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			e.Sweep(e.now())
		}
	}
}

// WindowCount returns the number of live trigger windows.
func (e *Engine) WindowCount() int { return e.windows.size() }

// Observe evaluates one event against every enabled automation and
// dispatches any resulting firings. A panic in one automation's
// evaluation is contained; the rest still run.
func (e *Engine) Observe(ev events.Event) []Firing {
	var fired []Firing
	for _, a := range e.store.Enabled() {
		firings := e.evaluate(a, ev)
		for _, f := range firings {
			metrics.FiringsTotal.WithLabelValues(string(a.Trigger.Posture)).Inc()
			if e.dispatcher != nil {
				e.dispatcher.Dispatch(f, a)
			}
		}
		fired = append(fired, firings...)
	}
	metrics.WindowsLive.Set(float64(e.windows.size()))
	return fired
}

func (e *Engine) evaluate(a Automation, ev events.Event) (firings []Firing) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("automation evaluation panicked",
				zap.String("automation_id", a.ID),
				zap.String("event", ev.Event),
				zap.Any("panic", r),
			)
		}
	}()

	t := a.Trigger
	if len(t.Match) > 0 && !t.Match.Matches(ev.Resource) {
		return nil
	}
	if len(t.MatchRelated) > 0 && !t.MatchRelated.MatchesRelated(ev.Related) {
		return nil
	}

	afterHit := len(t.After) > 0 && anyNameMatches(t.After, ev.Event)
	expectHit := anyNameMatches(t.Expect, ev.Event)
	key := windowKey{automationID: a.ID, resourceID: ev.Resource.ID()}
	now := e.now()

	switch t.Posture {
	case Proactive:
		// Resolution first: an event that both resolves and re-arms
		// (a recurring heartbeat) refreshes the deadline below.
		if expectHit {
			e.windows.resolveProactive(key)
		}
		if afterHit {
			labels := map[string]string{events.ResourceIDLabel: ev.Resource.ID()}
			e.windows.armProactive(key, labels, ev.Occurred.Add(t.Within.Duration()))
		}
		return nil

	default: // Reactive
		if afterHit {
			e.windows.armReactive(key, ev.Occurred, t.Within.Duration())
		}
		if !expectHit {
			return nil
		}
		gated := len(t.After) > 0
		if !e.windows.recordReactive(key, ev.ID, ev.Occurred, now, t.Within.Duration(), t.Threshold, gated) {
			return nil
		}
		evCopy := ev
		return []Firing{{
			ID:            uuid.NewString(),
			AutomationID:  a.ID,
			Trigger:       t,
			TriggerStates: []TriggerState{Triggered},
			Triggered:     now,
			TriggeringLabels: map[string]string{
				events.ResourceIDLabel: ev.Resource.ID(),
			},
			TriggeringEvent: &evCopy,
		}}
	}
}

// Sweep fires every proactive window whose deadline has passed and
// reclaims reactive windows whose within has elapsed without a firing.
// Called from the sweep loop; exported so tests can drive time directly.
func (e *Engine) Sweep(now time.Time) []Firing {
	defer func() { metrics.WindowsLive.Set(float64(e.windows.size())) }()

	if expired := e.windows.expireReactive(now); expired > 0 {
		e.logger.Debug("reclaimed expired reactive windows", zap.Int("count", expired))
	}
	due := e.windows.dueProactive(now)
	if len(due) == 0 {
		return nil
	}

	var fired []Firing
	for _, d := range due {
		a, err := e.store.Get(d.key.automationID)
		if err != nil || !a.Enabled {
			// Deleted or disabled while the window was pending.
			continue
		}
		f := Firing{
			ID:               uuid.NewString(),
			AutomationID:     a.ID,
			Trigger:          a.Trigger,
			TriggerStates:    []TriggerState{Triggered},
			Triggered:        now,
			TriggeringLabels: d.labels,
		}
		metrics.FiringsTotal.WithLabelValues(string(Proactive)).Inc()
		if e.dispatcher != nil {
			e.dispatcher.Dispatch(f, a)
		}
		fired = append(fired, f)
		e.logger.Info("proactive deadline elapsed",
			zap.String("automation_id", a.ID),
			zap.String("resource_id", d.key.resourceID),
		)
	}
	return fired
}
