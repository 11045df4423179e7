package automations

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTriggerValidate(t *testing.T) {
	good := EventTrigger{
		Posture:   Reactive,
		Expect:    []string{"windlass.flow-run.Failed"},
		Threshold: 3,
		Within:    Duration(time.Minute),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name    string
		trigger EventTrigger
	}{
		{"bad posture", EventTrigger{Posture: "Sideways"}},
		{"negative threshold", EventTrigger{Posture: Reactive, Threshold: -1}},
		{"negative within", EventTrigger{Posture: Reactive, Within: Duration(-time.Second)}},
		{"proactive without within", EventTrigger{
			Posture: Proactive,
			After:   []string{"windlass.flow-run.Running"},
		}},
		{"proactive without after", EventTrigger{
			Posture: Proactive,
			Within:  Duration(time.Minute),
			Expect:  []string{"windlass.flow-run.Completed"},
		}},
		{"blank event pattern", EventTrigger{
			Posture: Reactive,
			Expect:  []string{"  "},
		}},
		{"empty match label", EventTrigger{
			Posture: Reactive,
			Match:   ResourcePattern{"": "x"},
		}},
	}
	for _, tc := range cases {
		if err := tc.trigger.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestAutomationValidate(t *testing.T) {
	a := Automation{
		Name: "suspend-on-failures",
		Trigger: EventTrigger{
			Posture:   Reactive,
			Expect:    []string{"windlass.flow-run.Failed"},
			Threshold: 2,
			Within:    Duration(time.Minute),
		},
		Actions: ActionList{&SuspendFlowRun{Type: KindSuspendFlowRun}},
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a.Name = ""
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for missing name")
	}

	a.Name = "run-something"
	a.Actions = ActionList{&RunDeployment{Type: KindRunDeployment}}
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for run-deployment without deployment_id")
	}
}

func TestActionListJSONRoundTrip(t *testing.T) {
	in := `[
		{"type": "suspend-flow-run"},
		{"type": "run-deployment", "deployment_id": "d1"},
		{"type": "send-notification", "subject": "too many failures"}
	]`
	var list ActionList
	if err := json.Unmarshal([]byte(in), &list); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(list))
	}
	if list[0].Kind() != KindSuspendFlowRun {
		t.Fatalf("unexpected kind %s", list[0].Kind())
	}
	rd, ok := list[1].(*RunDeployment)
	if !ok || rd.DeploymentID != "d1" {
		t.Fatalf("unexpected action %+v", list[1])
	}

	out, err := json.Marshal(list)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var again ActionList
	if err := json.Unmarshal(out, &again); err != nil {
		t.Fatalf("re-Unmarshal error: %v", err)
	}
	if len(again) != 3 || again[2].Kind() != KindSendNotification {
		t.Fatalf("round trip lost actions: %+v", again)
	}
}

func TestActionListRejectsUnknownType(t *testing.T) {
	var list ActionList
	err := json.Unmarshal([]byte(`[{"type": "reboot-the-moon"}]`), &list)
	if err == nil {
		t.Fatal("expected error for unknown action type")
	}
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"90s"`), &d); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if d.Duration() != 90*time.Second {
		t.Fatalf("expected 90s, got %s", d.Duration())
	}
	if err := json.Unmarshal([]byte(`30`), &d); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if d.Duration() != 30*time.Second {
		t.Fatalf("expected 30s, got %s", d.Duration())
	}
	if err := json.Unmarshal([]byte(`"not-a-duration"`), &d); err == nil {
		t.Fatal("expected error for junk duration")
	}
}
