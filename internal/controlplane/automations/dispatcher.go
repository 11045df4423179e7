package automations

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// invocationNamespace seeds deterministic invocation ids. Never change it;
// redelivered firings must keep producing the same ids.
var invocationNamespace = uuid.MustParse("9f2c41de-8a63-4b1a-9f70-2e6f3d5c8b17")

// InvocationID derives a stable id for one action of one firing. The same
// logical firing always yields the same id, so the executor and the acted-on
// system can detect re-delivery.
func InvocationID(automationID string, firing Firing, actionIndex int) string {
	keys := make([]string, 0, len(firing.TriggeringLabels))
	for k := range firing.TriggeringLabels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(automationID)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, firing.TriggeringLabels[k])
	}
	fmt.Fprintf(&b, "|%s", firing.Triggered.UTC().Format(time.RFC3339Nano))
	if firing.TriggeringEvent != nil {
		fmt.Fprintf(&b, "|%s", firing.TriggeringEvent.ID)
	}
	fmt.Fprintf(&b, "|%d", actionIndex)
	return uuid.NewSHA1(invocationNamespace, []byte(b.String())).String()
}

// Dispatcher turns firings into triggered actions and hands them to the
// executor. Dispatch never waits for execution.
type Dispatcher struct {
	executor *Executor
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher feeding the given executor. A nil
// executor is allowed; Dispatch then only materializes the actions, which
// is what unit tests want.
func NewDispatcher(executor *Executor, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{executor: executor, logger: logger}
}

// Dispatch expands one firing into one TriggeredAction per automation
// action, preserving action order, and enqueues them for execution.
func (d *Dispatcher) Dispatch(firing Firing, a Automation) []TriggeredAction {
	out := make([]TriggeredAction, 0, len(a.Actions))
	for i, act := range a.Actions {
		out = append(out, TriggeredAction{
			ID:               InvocationID(a.ID, firing, i),
			AutomationID:     a.ID,
			AutomationName:   a.Name,
			ActionIndex:      i,
			Action:           act,
			Firing:           firing,
			Triggered:        firing.Triggered,
			TriggeringLabels: firing.TriggeringLabels,
			TriggeringEvent:  firing.TriggeringEvent,
			Status:           StatusPending,
		})
	}
	d.logger.Info("firing dispatched",
		zap.String("automation_id", a.ID),
		zap.String("firing_id", firing.ID),
		zap.Int("actions", len(out)),
	)
	if d.executor != nil {
		for i := range out {
			ta := out[i]
			d.executor.Enqueue(&ta)
		}
	}
	return out
}
