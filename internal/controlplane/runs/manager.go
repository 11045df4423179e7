// Package runs keeps the control plane's view of flow runs and deployments.
// It stands in for the orchestrated system: the automation engine only ever
// requests state transitions here and reads current state back, it never
// enforces transition legality itself.
package runs

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/windlass-io/windlass/internal/controlplane/events"
)

// StateType is a flow run state.
type StateType string

const (
	Scheduled StateType = "Scheduled"
	Pending   StateType = "Pending"
	Running   StateType = "Running"
	Completed StateType = "Completed"
	Failed    StateType = "Failed"
	Cancelled StateType = "Cancelled"
	Paused    StateType = "Paused"
)

// Terminal reports whether a run in this state is finished.
func (s StateType) Terminal() bool {
	switch s {
	case Completed, Failed, Cancelled:
		return true
	}
	return false
}

const (
	runResourcePrefix        = "windlass.flow-run."
	deploymentResourcePrefix = "windlass.deployment."
)

// ResourceID returns the event resource id for a run id.
func ResourceID(runID string) string {
	return runResourcePrefix + runID
}

// DeploymentResourceID returns the event resource id for a deployment id.
func DeploymentResourceID(deploymentID string) string {
	return deploymentResourcePrefix + deploymentID
}

// IDFromResource extracts a run id from its event resource id.
func IDFromResource(resourceID string) (string, bool) {
	return strings.CutPrefix(resourceID, runResourcePrefix)
}

// Deployment is a runnable flow definition.
type Deployment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FlowName string `json:"flow_name"`
}

// FlowRun is one execution of a flow.
type FlowRun struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	State        StateType `json:"state"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// Manager is the in-memory run registry. Every observed state transition is
// emitted as a lifecycle event so the automation engine sees it.
type Manager struct {
	mu          sync.RWMutex
	runs        map[string]*FlowRun
	deployments map[string]Deployment
	emit        func(events.Event)
	logger      *zap.Logger
}

// NewManager creates a run registry.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		runs:        make(map[string]*FlowRun),
		deployments: make(map[string]Deployment),
		logger:      logger,
	}
}

// SetEmitter installs the callback that receives lifecycle events. Must be
// set before runs are created; transitions with no emitter are logged only.
func (m *Manager) SetEmitter(emit func(events.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emit = emit
}

// RegisterDeployment adds or replaces a deployment.
func (m *Manager) RegisterDeployment(d Deployment) Deployment {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployments[d.ID] = d
	return d
}

// GetDeployment looks up a deployment.
func (m *Manager) GetDeployment(id string) (Deployment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deployments[id]
	return d, ok
}

// Create registers a new run in the given initial state and emits its first
// lifecycle event.
func (m *Manager) Create(name, deploymentID string, state StateType) (FlowRun, error) {
	if state == "" {
		state = Scheduled
	}
	m.mu.Lock()
	if deploymentID != "" {
		if _, ok := m.deployments[deploymentID]; !ok {
			m.mu.Unlock()
			return FlowRun{}, fmt.Errorf("deployment %s not found", deploymentID)
		}
	}
	now := time.Now().UTC()
	run := &FlowRun{
		ID:           uuid.NewString(),
		Name:         name,
		DeploymentID: deploymentID,
		State:        state,
		Created:      now,
		Updated:      now,
	}
	m.runs[run.ID] = run
	snapshot := *run
	m.mu.Unlock()

	m.emitTransition(snapshot)
	return snapshot, nil
}

// CreateFromDeployment starts a new run of a deployment. Returns the run and
// an HTTP-style status code (201 on creation).
func (m *Manager) CreateFromDeployment(deploymentID string) (FlowRun, int, error) {
	m.mu.RLock()
	d, ok := m.deployments[deploymentID]
	m.mu.RUnlock()
	if !ok {
		return FlowRun{}, http.StatusNotFound, fmt.Errorf("deployment %s not found", deploymentID)
	}
	run, err := m.Create(d.FlowName, d.ID, Scheduled)
	if err != nil {
		return FlowRun{}, http.StatusInternalServerError, err
	}
	return run, http.StatusCreated, nil
}

// Get returns a run snapshot.
func (m *Manager) Get(id string) (FlowRun, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return FlowRun{}, false
	}
	return *run, true
}

// List returns all runs.
func (m *Manager) List() []FlowRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]FlowRun, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, *run)
	}
	return out
}

// ReadState returns the current state of a run. Actions call this before
// re-applying an effect whose previous outcome is unknown.
func (m *Manager) ReadState(id string) (StateType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return "", fmt.Errorf("flow run %s not found", id)
	}
	return run.State, nil
}

// SetState requests a state transition. Returns 201 when the state changed,
// 200 when the run was already in the requested state (idempotent no-op).
func (m *Manager) SetState(id string, state StateType) (int, error) {
	m.mu.Lock()
	run, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		return http.StatusNotFound, fmt.Errorf("flow run %s not found", id)
	}
	if run.State == state {
		m.mu.Unlock()
		return http.StatusOK, nil
	}
	run.State = state
	run.Updated = time.Now().UTC()
	snapshot := *run
	m.mu.Unlock()

	m.emitTransition(snapshot)
	return http.StatusCreated, nil
}

func (m *Manager) emitTransition(run FlowRun) {
	m.mu.RLock()
	emit := m.emit
	m.mu.RUnlock()

	ev := events.Event{
		ID:       uuid.NewString(),
		Occurred: run.Updated,
		Event:    "windlass.flow-run." + string(run.State),
		Resource: events.Resource{
			events.ResourceIDLabel: ResourceID(run.ID),
			"windlass.run.name":    run.Name,
		},
	}
	if run.DeploymentID != "" {
		ev.Related = append(ev.Related, events.Resource{
			events.ResourceIDLabel:   DeploymentResourceID(run.DeploymentID),
			events.ResourceRoleLabel: "deployment",
		})
	}

	if emit == nil {
		m.logger.Debug("no event emitter configured; dropping transition event",
			zap.String("run_id", run.ID),
			zap.String("state", string(run.State)),
		)
		return
	}
	emit(ev)
}
