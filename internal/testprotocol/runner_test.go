package testprotocol

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ozgurtan/medavatar/internal/observability"
)

var metricsOnce sync.Once
var sharedMetrics *observability.Metrics

func testMetrics() *observability.Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = observability.NewMetrics("testprotocol_test")
	})
	return sharedMetrics
}

func newTestRunner() *Runner {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return NewRunner(l, testMetrics())
}

func TestDetectTriggersOrderAndNormalization(t *testing.T) {
	r := newTestRunner()

	got := r.DetectTriggers("please run adana01, adana02 now")
	want := []string{"adana01", "adana02"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DetectTriggers() = %v, want %v", got, want)
	}

	got = r.DetectTriggers("ADANA02   first,then adana01")
	want = []string{"adana02", "adana01"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DetectTriggers() = %v, want %v", got, want)
	}

	if got := r.DetectTriggers("no triggers here"); got != nil {
		t.Fatalf("DetectTriggers() = %v, want nil", got)
	}
}

func TestStartSingleStageReportsFullProgress(t *testing.T) {
	r := newTestRunner()
	info, err := r.Start("s1", "adana01")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if info.StageCount != 1 || info.Progress != 100 {
		t.Fatalf("stage info = %+v, want 1 stage at progress 100", info)
	}
	if info.AudioProv != "google" {
		t.Fatalf("AudioProv = %q, want google", info.AudioProv)
	}
}

func TestStartMultiStageProgressThirds(t *testing.T) {
	r := newTestRunner()
	info, err := r.Start("s1", "adana02")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if info.StageCount != 3 || info.Progress != 33 {
		t.Fatalf("stage info = %+v, want stage 1 of 3 at progress 33", info)
	}

	status := r.GetStatus("s1")
	if !status.Active || status.Stage != 0 || status.Progress != 33 {
		t.Fatalf("GetStatus() = %+v, want active stage 0 at 33", status)
	}
}

func TestAdvanceThroughCompletion(t *testing.T) {
	r := newTestRunner()
	if _, err := r.Start("s1", "adana02"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	info, err := r.Advance("s1")
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if info.Stage != 1 || info.Progress != 66 {
		t.Fatalf("stage info = %+v, want stage 1 at 66", info)
	}

	if _, err := r.Advance("s1"); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	info, err = r.Advance("s1")
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if !info.Complete || info.Progress != 100 {
		t.Fatalf("stage info = %+v, want complete at 100", info)
	}

	// Run state released: another advance is a caller error.
	if _, err := r.Advance("s1"); !errors.Is(err, ErrNoActiveProtocol) {
		t.Fatalf("Advance() after completion error = %v, want ErrNoActiveProtocol", err)
	}
}

func TestAdvanceWithoutStartFails(t *testing.T) {
	r := newTestRunner()
	if _, err := r.Advance("nope"); !errors.Is(err, ErrNoActiveProtocol) {
		t.Fatalf("Advance() error = %v, want ErrNoActiveProtocol", err)
	}
}

func TestStartUnknownProtocol(t *testing.T) {
	r := newTestRunner()
	if _, err := r.Start("s1", "adana99"); !errors.Is(err, ErrUnknownProtocol) {
		t.Fatalf("Start() error = %v, want ErrUnknownProtocol", err)
	}
}

func TestCancelIdempotentAndStopsRun(t *testing.T) {
	r := newTestRunner()
	if _, err := r.Start("s1", "adana02"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	r.Cancel("s1")
	r.Cancel("s1")

	if status := r.GetStatus("s1"); status.Active {
		t.Fatalf("GetStatus() active after Cancel")
	}
	if _, err := r.Advance("s1"); !errors.Is(err, ErrNoActiveProtocol) {
		t.Fatalf("Advance() after Cancel error = %v, want ErrNoActiveProtocol", err)
	}
}

func TestRunsAreIndependentPerSession(t *testing.T) {
	r := newTestRunner()
	if _, err := r.Start("s1", "adana02"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := r.Start("s2", "adana01"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, err := r.Advance("s1"); err != nil {
		t.Fatalf("Advance(s1) error = %v", err)
	}
	if got := r.GetStatus("s2"); got.Protocol != "adana01" || got.Stage != 0 {
		t.Fatalf("GetStatus(s2) = %+v, want untouched adana01 stage 0", got)
	}
}

func TestStaleTimerCannotResurrectRun(t *testing.T) {
	r := newTestRunner()
	if _, err := r.Start("s1", "adana02"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// Fire the stale callback by hand with the generation of a run that has
	// since been replaced.
	r.mu.Lock()
	staleGen := r.runs["s1"].gen
	r.mu.Unlock()

	if _, err := r.Start("s1", "adana02"); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	r.autoAdvance("s1", staleGen, 0)

	if got := r.GetStatus("s1"); got.Stage != 0 {
		t.Fatalf("stale timer advanced the new run to stage %d", got.Stage)
	}
}

func TestStageHookFiresOnTimerAdvance(t *testing.T) {
	r := newTestRunner()

	var mu sync.Mutex
	var stages []int
	r.SetStageHook(func(_ string, info StageInfo) {
		mu.Lock()
		stages = append(stages, info.Stage)
		mu.Unlock()
	})

	if _, err := r.Start("s1", "adana02"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	r.autoAdvance("s1", currentGen(r, "s1"), 0)

	mu.Lock()
	defer mu.Unlock()
	if len(stages) != 2 || stages[0] != 0 || stages[1] != 1 {
		t.Fatalf("hook stages = %v, want [0 1]", stages)
	}
}

func currentGen(r *Runner, sessionID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[sessionID].gen
}

func TestAutoAdvanceTimerFires(t *testing.T) {
	r := newTestRunner()
	r.mu.Lock()
	r.protocols["quick"] = Protocol{
		Name: "quick",
		Stages: []Stage{
			{Video: "a", DurationMS: 10, Message: "one"},
			{Video: "b", DurationMS: 10, Message: "two"},
		},
	}
	r.mu.Unlock()

	done := make(chan StageInfo, 4)
	r.SetStageHook(func(_ string, info StageInfo) {
		done <- info
	})

	if _, err := r.Start("s1", "quick"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case info := <-done:
			if info.Complete {
				return
			}
		case <-deadline:
			t.Fatalf("timer never completed the protocol")
		}
	}
}
