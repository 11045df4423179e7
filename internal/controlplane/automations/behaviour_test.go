package automations_test

import (
	"net/http"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/windlass-io/windlass/internal/controlplane/automations"
	"github.com/windlass-io/windlass/internal/controlplane/events"
	"github.com/windlass-io/windlass/internal/controlplane/runs"
)

// eventLog captures every event flowing through the harness pipeline.
type eventLog struct {
	mu   sync.Mutex
	evts []events.Event
}

func (l *eventLog) record(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evts = append(l.evts, ev)
}

func (l *eventLog) named(name string) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, ev := range l.evts {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

type fakeNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (n *fakeNotifier) Notify(event, resourceID, summary string, detail any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, summary)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subjects)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var _ = Describe("Automation pipeline", func() {
	var (
		store    *automations.Store
		engine   *automations.Engine
		executor *automations.Executor
		manager  *runs.Manager
		notifier *fakeNotifier
		log      *eventLog
		clock    *fakeClock
		ingest   func(events.Event)
	)

	BeforeEach(func() {
		var err error
		store, err = automations.NewStore(automations.StoreConfig{
			SQLitePath: filepath.Join(GinkgoT().TempDir(), "automations.db"),
		}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)

		manager = runs.NewManager(zap.NewNop())
		notifier = &fakeNotifier{}
		log = &eventLog{}
		clock = &fakeClock{t: time.Now().UTC()}

		rt := &automations.Runtime{
			Orchestrator: manager,
			Notifier:     notifier,
			Emit: func(ev events.Event) {
				ev = ev.Receive()
				log.record(ev)
			},
			Logger: zap.NewNop(),
		}
		executor = automations.NewExecutor(rt, 2, 32, zap.NewNop())
		executor.Start()
		DeferCleanup(executor.Stop)

		dispatcher := automations.NewDispatcher(executor, zap.NewNop())
		engine = automations.NewEngine(store, dispatcher, zap.NewNop())
		engine.SetClock(clock.Now)

		ingest = func(ev events.Event) {
			log.record(ev)
			engine.Observe(ev)
		}
		manager.SetEmitter(func(ev events.Event) {
			ingest(ev.Receive())
		})
	})

	Context("with a proactive stuck-run automation", func() {
		BeforeEach(func() {
			_, err := store.Create(automations.Automation{
				Name:    "suspend-stuck-runs",
				Enabled: true,
				Trigger: automations.EventTrigger{
					Posture: automations.Proactive,
					Match:   automations.ResourcePattern{events.ResourceIDLabel: "windlass.flow-run.*"},
					After:   []string{"windlass.flow-run.Running"},
					Expect:  []string{"windlass.flow-run.Completed", "windlass.flow-run.Failed"},
					Within:  automations.Duration(30 * time.Second),
				},
				Actions: automations.ActionList{
					&automations.SuspendFlowRun{Type: automations.KindSuspendFlowRun},
				},
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("suspends a run that never completes and records the outcome", func() {
			By("starting a run, which arms the deadline window")
			run, err := manager.Create("nightly-etl", "", runs.Running)
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.WindowCount()).To(Equal(1))

			By("sweeping after the deadline has passed")
			clock.Advance(45 * time.Second)
			fired := engine.Sweep(clock.Now())
			Expect(fired).To(HaveLen(1))
			Expect(fired[0].TriggeringEvent).To(BeNil())

			By("waiting for the executor to suspend the run")
			Eventually(func() (runs.StateType, error) {
				return manager.ReadState(run.ID)
			}, 5*time.Second, 20*time.Millisecond).Should(Equal(runs.Paused))

			By("checking the outcome event points at the suspended run")
			Eventually(func() []events.Event {
				return log.named(events.ActionExecuted)
			}, 5*time.Second, 20*time.Millisecond).Should(HaveLen(1))

			outcome := log.named(events.ActionExecuted)[0]
			targets := outcome.RelatedWithRole("target")
			Expect(targets).To(HaveLen(1))
			Expect(targets[0][events.ResourceIDLabel]).To(Equal(runs.ResourceID(run.ID)))
			Expect(outcome.Payload["status_code"]).To(Equal(http.StatusCreated))
		})

		It("leaves a run alone when it completes in time", func() {
			run, err := manager.Create("nightly-etl", "", runs.Running)
			Expect(err).NotTo(HaveOccurred())

			By("completing the run before the deadline")
			_, err = manager.SetState(run.ID, runs.Completed)
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.WindowCount()).To(BeZero())

			clock.Advance(45 * time.Second)
			Expect(engine.Sweep(clock.Now())).To(BeEmpty())

			state, err := manager.ReadState(run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(runs.Completed))
		})
	})

	Context("with a reactive crash-loop automation", func() {
		failure := func(id string) events.Event {
			return events.Event{
				ID:       id,
				Occurred: time.Now().UTC(),
				Event:    "windlass.flow-run.Failed",
				Resource: events.Resource{events.ResourceIDLabel: "windlass.flow-run.r-7"},
			}.Receive()
		}

		BeforeEach(func() {
			_, err := store.Create(automations.Automation{
				Name:    "page-on-crash-loop",
				Enabled: true,
				Trigger: automations.EventTrigger{
					Posture:   automations.Reactive,
					Expect:    []string{"windlass.flow-run.Failed"},
					Threshold: 3,
					Within:    automations.Duration(60 * time.Second),
				},
				Actions: automations.ActionList{
					&automations.SendNotification{
						Type:    automations.KindSendNotification,
						Subject: "crash loop detected",
					},
				},
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("notifies once the failure threshold is met, once per epoch", func() {
			By("staying quiet below the threshold")
			ingest(failure("f-1"))
			ingest(failure("f-2"))
			Consistently(notifier.count, 200*time.Millisecond, 20*time.Millisecond).Should(BeZero())

			By("firing on the third failure")
			ingest(failure("f-3"))
			Eventually(notifier.count, 5*time.Second, 20*time.Millisecond).Should(Equal(1))

			By("not re-firing until the threshold accumulates again")
			ingest(failure("f-4"))
			Consistently(notifier.count, 200*time.Millisecond, 20*time.Millisecond).Should(Equal(1))
		})
	})
})
