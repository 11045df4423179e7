package automations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/windlass-io/windlass/internal/controlplane/events"
	"github.com/windlass-io/windlass/internal/controlplane/runs"
)

// Action kinds accepted in automation definitions.
const (
	KindSuspendFlowRun   = "suspend-flow-run"
	KindCancelFlowRun    = "cancel-flow-run"
	KindRunDeployment    = "run-deployment"
	KindSendNotification = "send-notification"
)

// Orchestrator is the slice of the run manager actions need: read state
// back before re-applying an effect, request transitions, start runs.
type Orchestrator interface {
	ReadState(runID string) (runs.StateType, error)
	SetState(runID string, state runs.StateType) (int, error)
	CreateFromDeployment(deploymentID string) (runs.FlowRun, int, error)
}

// Notifier delivers a human-facing notification about an event.
type Notifier interface {
	Notify(event, resourceID, summary string, detail any) error
}

// Runtime carries the collaborators an executing action may use. Emit
// feeds outcome events back into the ingest pipeline.
type Runtime struct {
	Orchestrator Orchestrator
	Notifier     Notifier
	Emit         func(events.Event)
	Logger       *zap.Logger
}

// Outcome is the result of a successful action execution.
type Outcome struct {
	StatusCode int            `json:"status_code"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// Action is one executable automation effect. Act performs the effect;
// Succeed and Fail record the outcome as events so automations can chain
// on action results.
type Action interface {
	Kind() string
	Validate() error
	Act(ctx context.Context, ta *TriggeredAction, rt *Runtime) (Outcome, error)
	Succeed(ctx context.Context, ta *TriggeredAction, outcome Outcome, rt *Runtime) error
	Fail(ctx context.Context, ta *TriggeredAction, reason string, rt *Runtime) error
}

var actionConstructors = map[string]func() Action{
	KindSuspendFlowRun:   func() Action { return &SuspendFlowRun{Type: KindSuspendFlowRun} },
	KindCancelFlowRun:    func() Action { return &CancelFlowRun{Type: KindCancelFlowRun} },
	KindRunDeployment:    func() Action { return &RunDeployment{Type: KindRunDeployment} },
	KindSendNotification: func() Action { return &SendNotification{Type: KindSendNotification} },
}

func newAction(kind string) (Action, error) {
	ctor, ok := actionConstructors[kind]
	if !ok {
		return nil, fmt.Errorf("unknown action type %q", kind)
	}
	return ctor(), nil
}

// ActionList unmarshals the tagged-variant JSON encoding: each element
// carries a "type" field selecting the concrete action.
type ActionList []Action

func (l *ActionList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(ActionList, 0, len(raws))
	for i, raw := range raws {
		var tag struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &tag); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		act, err := newAction(tag.Type)
		if err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		if err := json.Unmarshal(raw, act); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		out = append(out, act)
	}
	*l = out
	return nil
}

// baseAction supplies the shared outcome reporting. Both paths emit an
// event whose related resource points at the acted-on target, closing the
// feedback loop for automations watching action results.
type baseAction struct{}

func (baseAction) Succeed(_ context.Context, ta *TriggeredAction, outcome Outcome, rt *Runtime) error {
	payload := map[string]any{
		"action_index": ta.ActionIndex,
		"action_type":  ta.Action.Kind(),
		"invocation":   ta.ID,
		"status_code":  outcome.StatusCode,
	}
	for k, v := range outcome.Detail {
		payload[k] = v
	}
	rt.emitOutcome(ta, events.ActionExecuted, payload)
	return nil
}

func (baseAction) Fail(_ context.Context, ta *TriggeredAction, reason string, rt *Runtime) error {
	rt.emitOutcome(ta, events.ActionFailed, map[string]any{
		"action_index": ta.ActionIndex,
		"action_type":  ta.Action.Kind(),
		"invocation":   ta.ID,
		"reason":       reason,
	})
	return nil
}

func (rt *Runtime) emitOutcome(ta *TriggeredAction, name string, payload map[string]any) {
	if rt.Emit == nil {
		return
	}
	ev := events.Event{
		ID:       uuid.NewString(),
		Occurred: time.Now().UTC(),
		Event:    name,
		Resource: events.Resource{
			events.ResourceIDLabel:    "windlass.automation." + ta.AutomationID,
			"windlass.automation.name": ta.AutomationName,
		},
		Payload: payload,
	}
	if target := ta.TargetResourceID(); target != "" {
		ev.Related = append(ev.Related, events.Resource{
			events.ResourceIDLabel:   target,
			events.ResourceRoleLabel: "target",
		})
	}
	rt.Emit(ev)
}

// runIDFromTarget resolves the flow run an action should operate on from
// the firing's triggering labels.
func runIDFromTarget(ta *TriggeredAction) (string, error) {
	target := ta.TargetResourceID()
	if target == "" {
		return "", fmt.Errorf("firing carries no target resource")
	}
	id, ok := runs.IDFromResource(target)
	if !ok {
		return "", fmt.Errorf("target %s is not a flow run", target)
	}
	return id, nil
}

// SuspendFlowRun pauses the flow run the trigger fired for. Re-invocation
// is safe: a run already Paused is left alone.
type SuspendFlowRun struct {
	baseAction
	Type string `json:"type"`
}

func (a *SuspendFlowRun) Kind() string    { return KindSuspendFlowRun }
func (a *SuspendFlowRun) Validate() error { return nil }

func (a *SuspendFlowRun) Act(_ context.Context, ta *TriggeredAction, rt *Runtime) (Outcome, error) {
	runID, err := runIDFromTarget(ta)
	if err != nil {
		return Outcome{}, err
	}
	state, err := rt.Orchestrator.ReadState(runID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reading state of run %s: %w", runID, err)
	}
	if state == runs.Paused {
		return Outcome{StatusCode: http.StatusOK}, nil
	}
	if state.Terminal() {
		return Outcome{}, fmt.Errorf("run %s is %s and cannot be suspended", runID, state)
	}
	code, err := rt.Orchestrator.SetState(runID, runs.Paused)
	if err != nil {
		return Outcome{}, fmt.Errorf("suspending run %s: %w", runID, err)
	}
	return Outcome{StatusCode: code}, nil
}

// CancelFlowRun cancels the flow run the trigger fired for. Runs already
// finished are left alone.
type CancelFlowRun struct {
	baseAction
	Type string `json:"type"`
}

func (a *CancelFlowRun) Kind() string    { return KindCancelFlowRun }
func (a *CancelFlowRun) Validate() error { return nil }

func (a *CancelFlowRun) Act(_ context.Context, ta *TriggeredAction, rt *Runtime) (Outcome, error) {
	runID, err := runIDFromTarget(ta)
	if err != nil {
		return Outcome{}, err
	}
	state, err := rt.Orchestrator.ReadState(runID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reading state of run %s: %w", runID, err)
	}
	if state.Terminal() {
		return Outcome{StatusCode: http.StatusOK}, nil
	}
	code, err := rt.Orchestrator.SetState(runID, runs.Cancelled)
	if err != nil {
		return Outcome{}, fmt.Errorf("cancelling run %s: %w", runID, err)
	}
	return Outcome{StatusCode: code}, nil
}

// RunDeployment starts a new run of a configured deployment.
type RunDeployment struct {
	baseAction
	Type         string `json:"type"`
	DeploymentID string `json:"deployment_id"`
}

func (a *RunDeployment) Kind() string { return KindRunDeployment }

func (a *RunDeployment) Validate() error {
	if a.DeploymentID == "" {
		return fmt.Errorf("deployment_id required")
	}
	return nil
}

func (a *RunDeployment) Act(_ context.Context, ta *TriggeredAction, rt *Runtime) (Outcome, error) {
	run, code, err := rt.Orchestrator.CreateFromDeployment(a.DeploymentID)
	if err != nil {
		return Outcome{}, fmt.Errorf("running deployment %s: %w", a.DeploymentID, err)
	}
	return Outcome{
		StatusCode: code,
		Detail:     map[string]any{"flow_run_id": run.ID},
	}, nil
}

// SendNotification pushes a message through the configured notifier.
type SendNotification struct {
	baseAction
	Type    string `json:"type"`
	Subject string `json:"subject"`
	Body    string `json:"body,omitempty"`
}

func (a *SendNotification) Kind() string { return KindSendNotification }

func (a *SendNotification) Validate() error {
	if a.Subject == "" {
		return fmt.Errorf("subject required")
	}
	return nil
}

func (a *SendNotification) Act(_ context.Context, ta *TriggeredAction, rt *Runtime) (Outcome, error) {
	if rt.Notifier == nil {
		return Outcome{}, fmt.Errorf("no notifier configured")
	}
	detail := map[string]any{
		"automation": ta.AutomationName,
		"body":       a.Body,
	}
	if ta.TriggeringEvent != nil {
		detail["event"] = ta.TriggeringEvent.Event
	}
	eventName := ""
	if ta.TriggeringEvent != nil {
		eventName = ta.TriggeringEvent.Event
	}
	if err := rt.Notifier.Notify(eventName, ta.TargetResourceID(), a.Subject, detail); err != nil {
		return Outcome{}, fmt.Errorf("sending notification: %w", err)
	}
	return Outcome{StatusCode: http.StatusOK}, nil
}
