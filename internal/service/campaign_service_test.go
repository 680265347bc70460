// internal/service/campaign_service_test.go
package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	appErrors "github.com/unclebandit/mailleopard-backend/internal/errors"
	"github.com/unclebandit/mailleopard-backend/internal/mailer"
	"github.com/unclebandit/mailleopard-backend/internal/model"
	"github.com/unclebandit/mailleopard-backend/internal/service"
)

// scriptedMailer fails on cue so tests can drive the retry loop.
type scriptedMailer struct {
	authErr   error
	delay     time.Duration
	failures  map[string]int // remaining transient failures per address
	throttled map[string]int // remaining throttled failures per address
	permanent map[string]bool

	mu    sync.Mutex
	calls map[string]int
}

func (m *scriptedMailer) Authenticate(ctx context.Context) error {
	return m.authErr
}

func (m *scriptedMailer) Send(ctx context.Context, msg mailer.Message) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[msg.To]++

	if m.permanent[msg.To] {
		return &mailer.SendError{Kind: mailer.Permanent, Err: errors.New("mailbox unavailable")}
	}
	if m.throttled[msg.To] > 0 {
		m.throttled[msg.To]--
		return &mailer.SendError{Kind: mailer.Throttled, Err: errors.New("too many messages")}
	}
	if m.failures[msg.To] > 0 {
		m.failures[msg.To]--
		return &mailer.SendError{Kind: mailer.Transient, Err: errors.New("connection reset")}
	}
	return nil
}

func (m *scriptedMailer) callCount(to string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[to]
}

func newService(m mailer.Mailer) *service.CampaignService {
	svc := service.NewCampaignService()
	svc.NewMailer = func(mailer.Config) mailer.Mailer { return m }
	return svc
}

func startConfig(recipients []model.Recipient) service.StartConfig {
	return service.StartConfig{
		Name:       "test campaign",
		Recipients: recipients,
		EmailField: "email",
		Template: model.Template{
			Subject: "Hello {{name}}",
			Body:    "Hi {{name}}, this is for {{email}}.",
		},
		Concurrency: 2,
		MaxAttempts: 3,
		SendTimeout: time.Second,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	}
}

func addresses(n int) []model.Recipient {
	out := make([]model.Recipient, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.Recipient{
			"email": string(rune('a'+i%26)) + string(rune('0'+i/26%10)) + string(rune('0'+i/260)) + "@example.com",
			"name":  "r",
		})
	}
	return out
}

func waitDone(t *testing.T, svc *service.CampaignService) {
	t.Helper()
	select {
	case <-svc.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("campaign did not reach a terminal phase in time")
	}
}

func checkInvariant(t *testing.T, snap model.Snapshot) {
	t.Helper()
	if snap.Sent+snap.Failed+snap.Skipped+snap.Pending != snap.Total {
		t.Fatalf("invariant broken: %+v", snap)
	}
}

func TestCampaignCompletes(t *testing.T) {
	m := &scriptedMailer{}
	svc := newService(m)

	if err := svc.Start(startConfig(addresses(3))); err != nil {
		t.Fatal(err)
	}
	waitDone(t, svc)

	snap := svc.Progress()
	if snap.Phase != model.PhaseCompleted {
		t.Fatalf("phase = %s", snap.Phase)
	}
	if snap.Sent != 3 || snap.Failed != 0 || snap.Pending != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
	checkInvariant(t, snap)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	rs := []model.Recipient{{"email": "flaky@example.com", "name": "f"}}
	m := &scriptedMailer{failures: map[string]int{"flaky@example.com": 2}}
	svc := newService(m)

	if err := svc.Start(startConfig(rs)); err != nil {
		t.Fatal(err)
	}
	waitDone(t, svc)

	snap := svc.Progress()
	if snap.Sent != 1 || snap.Failed != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := m.callCount("flaky@example.com"); got != 3 {
		t.Errorf("send attempts = %d, want 3", got)
	}
}

func TestRetriesExhausted(t *testing.T) {
	rs := []model.Recipient{{"email": "down@example.com", "name": "d"}}
	m := &scriptedMailer{failures: map[string]int{"down@example.com": 10}}
	svc := newService(m)

	if err := svc.Start(startConfig(rs)); err != nil {
		t.Fatal(err)
	}
	waitDone(t, svc)

	snap := svc.Progress()
	if snap.Failed != 1 || snap.Sent != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := m.callCount("down@example.com"); got != 3 {
		t.Errorf("send attempts = %d, want 3", got)
	}
	checkInvariant(t, snap)
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	rs := []model.Recipient{{"email": "gone@example.com", "name": "g"}}
	m := &scriptedMailer{permanent: map[string]bool{"gone@example.com": true}}
	svc := newService(m)

	if err := svc.Start(startConfig(rs)); err != nil {
		t.Fatal(err)
	}
	waitDone(t, svc)

	if snap := svc.Progress(); snap.Failed != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := m.callCount("gone@example.com"); got != 1 {
		t.Errorf("send attempts = %d, want 1", got)
	}
}

func TestThrottledFailuresAreRetried(t *testing.T) {
	rs := []model.Recipient{{"email": "slow@example.com", "name": "s"}}
	m := &scriptedMailer{throttled: map[string]int{"slow@example.com": 1}}
	svc := newService(m)

	if err := svc.Start(startConfig(rs)); err != nil {
		t.Fatal(err)
	}
	waitDone(t, svc)

	if snap := svc.Progress(); snap.Sent != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := m.callCount("slow@example.com"); got != 2 {
		t.Errorf("send attempts = %d, want 2", got)
	}
}

func TestAuthFailureAbortsBeforeAnySend(t *testing.T) {
	m := &scriptedMailer{authErr: &mailer.AuthError{Err: errors.New("535 bad credentials")}}
	svc := newService(m)

	err := svc.Start(startConfig(addresses(3)))
	var auth *mailer.AuthError
	if !errors.As(err, &auth) {
		t.Fatalf("want AuthError, got %v", err)
	}
	if phase := svc.Progress().Phase; phase != model.PhaseIdle {
		t.Errorf("phase = %s, want idle", phase)
	}
	if m.calls != nil {
		t.Errorf("sends happened despite auth failure: %v", m.calls)
	}
}

func TestStartWhileRunning(t *testing.T) {
	m := &scriptedMailer{delay: 10 * time.Millisecond}
	svc := newService(m)

	if err := svc.Start(startConfig(addresses(50))); err != nil {
		t.Fatal(err)
	}

	err := svc.Start(startConfig(addresses(1)))
	var running *appErrors.ErrAlreadyRunning
	if !errors.As(err, &running) {
		t.Fatalf("want ErrAlreadyRunning, got %v", err)
	}

	if err := svc.Cancel(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, svc)
}

func TestCancelSkipsPending(t *testing.T) {
	m := &scriptedMailer{delay: 5 * time.Millisecond}
	svc := newService(m)

	if err := svc.Start(startConfig(addresses(200))); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	if err := svc.Cancel(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, svc)

	snap := svc.Progress()
	if snap.Phase != model.PhaseCancelled {
		t.Fatalf("phase = %s", snap.Phase)
	}
	if snap.Pending != 0 {
		t.Errorf("pending = %d after cancel", snap.Pending)
	}
	if snap.Skipped == 0 {
		t.Error("cancel should skip the untouched recipients")
	}
	checkInvariant(t, snap)

	// Workers have quiesced, so the call counts are final.
	before := svc.Progress()
	time.Sleep(30 * time.Millisecond)
	if after := svc.Progress(); after != before {
		t.Errorf("snapshot moved after cancel: %+v -> %+v", before, after)
	}
}

func TestConcurrentCancels(t *testing.T) {
	m := &scriptedMailer{delay: 20 * time.Millisecond}
	svc := newService(m)

	if err := svc.Start(startConfig(addresses(50))); err != nil {
		t.Fatal(err)
	}

	// Both callers pass the initial phase check while the workers quiesce;
	// exactly one may complete the transition and close the run.
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- svc.Cancel() }()
	}

	var won, lost int
	for i := 0; i < 2; i++ {
		err := <-errs
		if err == nil {
			won++
			continue
		}
		var invalid *appErrors.ErrInvalidTransition
		if !errors.As(err, &invalid) {
			t.Fatalf("losing cancel: want ErrInvalidTransition, got %v", err)
		}
		lost++
	}
	if won != 1 || lost != 1 {
		t.Fatalf("won=%d lost=%d, want exactly one of each", won, lost)
	}

	waitDone(t, svc)
	snap := svc.Progress()
	if snap.Phase != model.PhaseCancelled || snap.Pending != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
	checkInvariant(t, snap)
}

func TestResumeRacingCancel(t *testing.T) {
	m := &scriptedMailer{delay: 20 * time.Millisecond}
	svc := newService(m)

	if err := svc.Start(startConfig(addresses(50))); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := svc.Pause(); err != nil {
		t.Fatal(err)
	}

	cancelled := make(chan error, 1)
	go func() { cancelled <- svc.Cancel() }()

	// A resume racing the cancel must either lose with InvalidTransition or
	// win outright; it may never leave workers sending past the cancel.
	resumeErr := svc.Resume()
	if err := <-cancelled; err != nil {
		var invalid *appErrors.ErrInvalidTransition
		if !errors.As(err, &invalid) {
			t.Fatalf("cancel: %v", err)
		}
		// Resume won; cancel the resumed run to finish the test.
		if resumeErr != nil {
			t.Fatalf("both resume and cancel failed: %v / %v", resumeErr, err)
		}
		if err := svc.Cancel(); err != nil {
			t.Fatal(err)
		}
	}
	waitDone(t, svc)

	snap := svc.Progress()
	if snap.Phase != model.PhaseCancelled {
		t.Fatalf("phase = %s", snap.Phase)
	}
	if snap.Pending != 0 {
		t.Errorf("pending = %d after cancel", snap.Pending)
	}
	checkInvariant(t, snap)

	// Workers have quiesced; the counters must not move again.
	before := svc.Progress()
	time.Sleep(60 * time.Millisecond)
	if after := svc.Progress(); after != before {
		t.Errorf("snapshot moved after cancel: %+v -> %+v", before, after)
	}
}

func TestPauseFreezesAndResumeFinishes(t *testing.T) {
	m := &scriptedMailer{delay: 5 * time.Millisecond}
	svc := newService(m)

	if err := svc.Start(startConfig(addresses(200))); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := svc.Pause(); err != nil {
		t.Fatal(err)
	}
	if phase := svc.Progress().Phase; phase != model.PhasePaused {
		t.Fatalf("phase = %s after pause", phase)
	}

	frozen := svc.Progress()
	if frozen.Sent == 0 {
		t.Fatal("expected some progress before the pause")
	}
	time.Sleep(50 * time.Millisecond)
	if now := svc.Progress(); now != frozen {
		t.Fatalf("snapshot moved while paused: %+v -> %+v", frozen, now)
	}

	if err := svc.Resume(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, svc)

	snap := svc.Progress()
	if snap.Phase != model.PhaseCompleted {
		t.Fatalf("phase = %s", snap.Phase)
	}
	if snap.Sent != snap.Total {
		t.Fatalf("snapshot = %+v", snap)
	}

	// No recipient is delivered twice across a pause.
	m.mu.Lock()
	defer m.mu.Unlock()
	for to, n := range m.calls {
		if n != 1 {
			t.Errorf("%s sent %d times", to, n)
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	svc := newService(&scriptedMailer{})

	for _, op := range []struct {
		name string
		fn   func() error
	}{
		{"pause", svc.Pause},
		{"resume", svc.Resume},
		{"cancel", svc.Cancel},
	} {
		err := op.fn()
		var invalid *appErrors.ErrInvalidTransition
		if !errors.As(err, &invalid) {
			t.Errorf("%s from idle: want ErrInvalidTransition, got %v", op.name, err)
		}
	}
}

func TestDuplicateRecipientsReported(t *testing.T) {
	rs := []model.Recipient{
		{"email": "ann@example.com", "name": "Ann"},
		{"email": "ANN@example.com", "name": "Ann again"},
	}
	m := &scriptedMailer{}
	svc := newService(m)

	var mu sync.Mutex
	var skipped []model.SendOutcome
	svc.Subscribe(func(e model.Event) {
		if e.Kind == model.EventOutcome && e.Outcome.Status == model.OutcomeSkipped {
			mu.Lock()
			skipped = append(skipped, *e.Outcome)
			mu.Unlock()
		}
	})

	if err := svc.Start(startConfig(rs)); err != nil {
		t.Fatal(err)
	}
	waitDone(t, svc)

	snap := svc.Progress()
	if snap.Sent != 1 || snap.Skipped != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := m.callCount("ann@example.com"); got != 1 {
		t.Errorf("send attempts = %d, want 1", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(skipped) != 1 || skipped[0].Reason != "duplicate" {
		t.Fatalf("skipped outcomes = %+v", skipped)
	}
}

func TestConcurrencyLevelsAgree(t *testing.T) {
	rs := addresses(40)

	run := func(concurrency int) model.Snapshot {
		m := &scriptedMailer{failures: map[string]int{rs[5].Identity("email"): 1}}
		svc := newService(m)
		cfg := startConfig(rs)
		cfg.Concurrency = concurrency
		if err := svc.Start(cfg); err != nil {
			t.Fatal(err)
		}
		waitDone(t, svc)
		return svc.Progress()
	}

	one := run(1)
	eight := run(8)
	if one != eight {
		t.Fatalf("snapshots differ: %+v vs %+v", one, eight)
	}
	if one.Sent != 40 {
		t.Fatalf("snapshot = %+v", one)
	}
}

func TestSubscribeSeesLifecycleAndOutcomes(t *testing.T) {
	svc := newService(&scriptedMailer{})

	var mu sync.Mutex
	outcomes := 0
	lifecycle := 0
	svc.Subscribe(func(e model.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch e.Kind {
		case model.EventOutcome:
			outcomes++
		case model.EventLifecycle:
			lifecycle++
		}
	})

	if err := svc.Start(startConfig(addresses(4))); err != nil {
		t.Fatal(err)
	}
	waitDone(t, svc)

	mu.Lock()
	defer mu.Unlock()
	if outcomes != 4 {
		t.Errorf("outcome events = %d, want 4", outcomes)
	}
	if lifecycle < 2 {
		t.Errorf("lifecycle events = %d, want start and complete", lifecycle)
	}
}

func TestActivityExport(t *testing.T) {
	svc := newService(&scriptedMailer{})

	if err := svc.Start(startConfig(addresses(2))); err != nil {
		t.Fatal(err)
	}
	waitDone(t, svc)

	entries := svc.ActivityExport()
	if len(entries) != 4 { // start, two outcomes, complete
		t.Fatalf("entries = %d: %+v", len(entries), entries)
	}
	if entries[0].Kind != model.LogStart {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[len(entries)-1].Kind != model.LogComplete {
		t.Errorf("last entry = %+v", entries[len(entries)-1])
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			t.Fatal("entries out of order")
		}
	}

	// Export hands out a copy.
	entries[0].Message = "mutated"
	if again := svc.ActivityExport(); again[0].Message == "mutated" {
		t.Error("export shares its backing array")
	}
}

func TestResetAllowsNextRun(t *testing.T) {
	svc := newService(&scriptedMailer{})

	if err := svc.Start(startConfig(addresses(1))); err != nil {
		t.Fatal(err)
	}
	waitDone(t, svc)
	firstRun := svc.RunID()

	if err := svc.Reset(); err != nil {
		t.Fatal(err)
	}
	if phase := svc.Progress().Phase; phase != model.PhaseIdle {
		t.Fatalf("phase = %s after reset", phase)
	}

	if err := svc.Start(startConfig(addresses(1))); err != nil {
		t.Fatal(err)
	}
	waitDone(t, svc)
	if svc.RunID() == firstRun {
		t.Error("second run reused the first run id")
	}
}

func TestSendTest(t *testing.T) {
	m := &scriptedMailer{}
	svc := newService(m)

	tpl := model.Template{Subject: "Hi {{name}}", Body: "Test for {{name}}"}
	r := model.Recipient{"email": "ann@example.com", "name": "Ann"}

	if err := svc.SendTest(context.Background(), mailer.Config{}, tpl, r, "email"); err != nil {
		t.Fatal(err)
	}
	if got := m.callCount("ann@example.com"); got != 1 {
		t.Errorf("send attempts = %d, want 1", got)
	}
	if phase := svc.Progress().Phase; phase != model.PhaseIdle {
		t.Errorf("test send changed phase to %s", phase)
	}

	err := svc.SendTest(context.Background(), mailer.Config{}, tpl, model.Recipient{"name": "x"}, "email")
	var invalid *appErrors.ErrInvalidField
	if !errors.As(err, &invalid) {
		t.Errorf("want ErrInvalidField for blank address, got %v", err)
	}
}
