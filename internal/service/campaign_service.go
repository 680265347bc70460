// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	appErrors "github.com/unclebandit/mailleopard-backend/internal/errors"
	"github.com/unclebandit/mailleopard-backend/internal/mailer"
	"github.com/unclebandit/mailleopard-backend/internal/model"
	"github.com/unclebandit/mailleopard-backend/internal/queue"
)

// Defaults for the per-run options left at zero.
const (
	DefaultConcurrency = 4
	DefaultMaxAttempts = 3
	DefaultSendTimeout = 30 * time.Second
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffCap  = 30 * time.Second
)

// RunRepository persists campaign run records. Optional.
type RunRepository interface {
	CreateRun(run *model.CampaignRun) error
	FinishRun(id, status string, snap model.Snapshot) error
}

// StartConfig carries everything one campaign run needs.
type StartConfig struct {
	Name          string
	Recipients    []model.Recipient
	EmailField    string
	Template      model.Template
	Mailer        mailer.Config
	Concurrency   int
	MaxAttempts   int
	SendTimeout   time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	RatePerSecond float64
}

// CampaignService owns one campaign run at a time: the recipient queue, the
// worker pool, the activity log and the lifecycle state machine
// Idle -> Running -> {Paused, Completed, Cancelled}. All mutation of shared
// run state goes through its mutex or the queue's own synchronised
// operations.
type CampaignService struct {
	// NewMailer builds the mailer for a run; nil means the SMTP adapter.
	NewMailer func(mailer.Config) mailer.Mailer
	RunRepo   RunRepository
	Sink      ActivitySink

	mu          sync.Mutex
	phase       model.Phase
	starting    bool
	pausing     bool
	cancelling  bool
	runID       string
	queue       *queue.RecipientQueue
	pool        *WorkerPool
	mailer      mailer.Mailer
	cfg         StartConfig
	activity    *ActivityLog
	subscribers []func(model.Event)
	done        chan struct{}
}

func NewCampaignService() *CampaignService {
	return &CampaignService{phase: model.PhaseIdle}
}

// Start begins a campaign run. It fails with AlreadyRunning unless the
// service is idle, and with a config or auth error before any send occurs.
func (s *CampaignService) Start(cfg StartConfig) error {
	s.mu.Lock()
	if s.starting || (s.phase != model.PhaseIdle && s.phase != "") {
		phase := s.phase
		s.mu.Unlock()
		return appErrors.NewAlreadyRunning(string(phase))
	}
	s.starting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	applyDefaults(&cfg)
	if cfg.Template.Subject == "" && cfg.Template.Body == "" {
		return fmt.Errorf("template is empty")
	}

	q, err := queue.NewRecipientQueue(cfg.Recipients, cfg.EmailField)
	if err != nil {
		return err
	}

	m := s.newMailer(cfg.Mailer)
	authCtx, cancel := context.WithTimeout(context.Background(), cfg.SendTimeout)
	err = m.Authenticate(authCtx)
	cancel()
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	total := q.Snapshot().Total

	if s.RunRepo != nil {
		run := &model.CampaignRun{
			ID:        runID,
			Name:      cfg.Name,
			Status:    string(model.PhaseRunning),
			Total:     total,
			StartedAt: time.Now().UTC(),
		}
		if err := s.RunRepo.CreateRun(run); err != nil {
			log.Println("⚠️ failed to persist campaign run:", err)
		}
	}

	s.mu.Lock()
	s.phase = model.PhaseRunning
	s.runID = runID
	s.queue = q
	s.mailer = m
	s.cfg = cfg
	s.activity = NewActivityLog(runID, s.Sink)
	s.pausing = false
	s.cancelling = false
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logLifecycle(model.LogStart, fmt.Sprintf("campaign %q started: %d recipients", cfg.Name, total))
	for _, o := range q.BuildSkips() {
		s.recordOutcome(o)
	}
	s.spawnPool()
	return nil
}

// Pause stops workers from taking new recipients; in-flight sends finish
// first. The phase becomes Paused once every worker has quiesced.
func (s *CampaignService) Pause() error {
	s.mu.Lock()
	if s.phase != model.PhaseRunning {
		phase := s.phase
		s.mu.Unlock()
		return appErrors.NewInvalidTransition("pause", string(phase))
	}
	s.pausing = true
	pool := s.pool
	s.mu.Unlock()

	pool.Stop()
	pool.Wait()

	s.mu.Lock()
	s.pausing = false
	phase := s.phase
	if phase != model.PhaseRunning {
		s.mu.Unlock()
		return appErrors.NewInvalidTransition("pause", string(phase))
	}
	s.phase = model.PhasePaused
	s.mu.Unlock()

	s.logLifecycle(model.LogPause, "campaign paused")
	return nil
}

// Resume reactivates workers against the same queue position.
func (s *CampaignService) Resume() error {
	s.mu.Lock()
	if s.phase != model.PhasePaused || s.cancelling {
		// cancelling guards the window where a cancel admitted under Paused
		// is still quiescing; resuming there would leave its workers running
		// past the cancel.
		phase := s.phase
		s.mu.Unlock()
		return appErrors.NewInvalidTransition("resume", string(phase))
	}
	s.phase = model.PhaseRunning
	s.mu.Unlock()

	s.logLifecycle(model.LogResume, "campaign resumed")
	s.spawnPool()
	return nil
}

// Cancel stops the run: workers quiesce, every still-pending recipient is
// skipped, and the phase becomes Cancelled.
func (s *CampaignService) Cancel() error {
	s.mu.Lock()
	if s.phase != model.PhaseRunning && s.phase != model.PhasePaused {
		phase := s.phase
		s.mu.Unlock()
		return appErrors.NewInvalidTransition("cancel", string(phase))
	}
	s.cancelling = true
	pool := s.pool
	s.mu.Unlock()

	if pool != nil {
		pool.Stop()
		pool.Wait()
	}

	s.mu.Lock()
	s.cancelling = false
	phase := s.phase
	if phase != model.PhaseRunning && phase != model.PhasePaused {
		// A concurrent cancel won the quiesce; done is already closed.
		s.mu.Unlock()
		return appErrors.NewInvalidTransition("cancel", string(phase))
	}
	s.phase = model.PhaseCancelled
	q := s.queue
	done := s.done
	s.mu.Unlock()

	for _, o := range q.SkipPending("cancelled") {
		s.recordOutcome(o)
	}
	s.logLifecycle(model.LogCancel, "campaign cancelled")
	s.finishRun(string(model.PhaseCancelled))
	close(done)
	return nil
}

// Progress returns a point-in-time snapshot. Safe to call from any goroutine
// in any phase.
func (s *CampaignService) Progress() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var snap model.Snapshot
	if s.queue != nil {
		snap = s.queue.Snapshot()
	}
	snap.Phase = s.phase
	if snap.Phase == "" {
		snap.Phase = model.PhaseIdle
	}
	return snap
}

// Subscribe registers a synchronous callback for outcome and lifecycle
// events. Callbacks run on worker goroutines and should return quickly.
func (s *CampaignService) Subscribe(fn func(model.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Done returns a channel closed when the current run reaches a terminal
// phase. Nil before the first run starts.
func (s *CampaignService) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// RunID returns the id of the current or most recent run.
func (s *CampaignService) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// ActivityExport returns the ordered activity log of the current or most
// recent run.
func (s *CampaignService) ActivityExport() []model.LogEntry {
	s.mu.Lock()
	activity := s.activity
	s.mu.Unlock()
	if activity == nil {
		return nil
	}
	return activity.Export()
}

// Reset returns a terminal campaign to Idle so the service can host another
// run. The activity log of the finished run stays exportable until the next
// Start. Refused while a run is live.
func (s *CampaignService) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.starting || s.phase == model.PhaseRunning || s.phase == model.PhasePaused {
		return appErrors.NewAlreadyRunning(string(s.phase))
	}
	s.phase = model.PhaseIdle
	s.queue = nil
	s.pool = nil
	s.done = nil
	return nil
}

// SendTest renders and sends the template to exactly one recipient, bypassing
// the queue and outcome aggregation.
func (s *CampaignService) SendTest(ctx context.Context, cfg mailer.Config, tpl model.Template, recipient model.Recipient, emailField string) error {
	to := recipient.Identity(emailField)
	if to == "" {
		return appErrors.NewInvalidField(emailField)
	}
	m := s.newMailer(cfg)
	if err := m.Authenticate(ctx); err != nil {
		return err
	}
	subject, body := RenderMessage(tpl, recipient)
	return m.Send(ctx, mailer.Message{
		To:          to,
		Subject:     subject,
		Body:        body,
		Attachments: tpl.Attachments,
	})
}

func (s *CampaignService) spawnPool() {
	s.mu.Lock()
	var limiter *rate.Limiter
	if s.cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSecond), 1)
	}
	policy := RetryPolicy{
		MaxAttempts: s.cfg.MaxAttempts,
		SendTimeout: s.cfg.SendTimeout,
		BackoffBase: s.cfg.BackoffBase,
		BackoffCap:  s.cfg.BackoffCap,
	}
	pool := NewWorkerPool(s.queue, s.mailer, s.cfg.Template, policy, limiter, s.recordOutcome)
	s.pool = pool
	n := s.cfg.Concurrency
	s.mu.Unlock()

	pool.Start(n)
	go s.watch(pool)
}

// watch waits for the pool to drain and completes the run, unless a pause or
// cancel is responsible for the workers exiting.
func (s *CampaignService) watch(pool *WorkerPool) {
	pool.Wait()

	s.mu.Lock()
	if s.pool != pool || s.phase != model.PhaseRunning || s.pausing || s.cancelling {
		s.mu.Unlock()
		return
	}
	if s.queue.Snapshot().Pending > 0 {
		// Workers only exit with work left when told to stop; whoever told
		// them owns the transition.
		s.mu.Unlock()
		return
	}
	s.phase = model.PhaseCompleted
	done := s.done
	s.mu.Unlock()

	snap := s.Progress()
	s.logLifecycle(model.LogComplete, fmt.Sprintf("campaign completed: %d sent, %d failed, %d skipped", snap.Sent, snap.Failed, snap.Skipped))
	s.finishRun(string(model.PhaseCompleted))
	close(done)
}

// recordOutcome is called synchronously by workers for every outcome, so
// progress is observable in real time.
func (s *CampaignService) recordOutcome(o model.SendOutcome) {
	activity, subs, snap := s.eventState()
	if activity != nil {
		activity.Append(string(o.Status), o.Recipient, o.Reason)
	}
	event := model.Event{Kind: model.EventOutcome, Outcome: &o, Phase: snap.Phase, Snapshot: snap}
	for _, fn := range subs {
		fn(event)
	}
}

func (s *CampaignService) logLifecycle(kind, message string) {
	activity, subs, snap := s.eventState()
	if activity != nil {
		activity.Append(kind, "", message)
	}
	event := model.Event{Kind: model.EventLifecycle, Phase: snap.Phase, Snapshot: snap}
	for _, fn := range subs {
		fn(event)
	}
	log.Println("📣", message)
}

// eventState copies the subscriber list and snapshot under the lock so
// callbacks run outside it.
func (s *CampaignService) eventState() (*ActivityLog, []func(model.Event), model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var snap model.Snapshot
	if s.queue != nil {
		snap = s.queue.Snapshot()
	}
	snap.Phase = s.phase
	subs := make([]func(model.Event), len(s.subscribers))
	copy(subs, s.subscribers)
	return s.activity, subs, snap
}

func (s *CampaignService) finishRun(status string) {
	if s.RunRepo == nil {
		return
	}
	s.mu.Lock()
	runID := s.runID
	s.mu.Unlock()
	if err := s.RunRepo.FinishRun(runID, status, s.Progress()); err != nil {
		log.Println("⚠️ failed to finish campaign run record:", err)
	}
}

func (s *CampaignService) newMailer(cfg mailer.Config) mailer.Mailer {
	if s.NewMailer != nil {
		return s.NewMailer(cfg)
	}
	return mailer.NewSMTPMailer(cfg)
}

func applyDefaults(cfg *StartConfig) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
}
