// internal/service/worker.go
package service

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/unclebandit/mailleopard-backend/internal/mailer"
	"github.com/unclebandit/mailleopard-backend/internal/model"
	"github.com/unclebandit/mailleopard-backend/internal/queue"
)

// RetryPolicy bounds the per-recipient send loop.
type RetryPolicy struct {
	MaxAttempts int
	SendTimeout time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// WorkerPool drains the recipient queue with a fixed number of concurrent
// workers. Stopping is cooperative: each worker finishes its current send
// attempt and releases anything still mid-retry back to the queue.
type WorkerPool struct {
	queue    *queue.RecipientQueue
	mailer   mailer.Mailer
	template model.Template
	policy   RetryPolicy
	limiter  *rate.Limiter
	report   func(model.SendOutcome)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorkerPool(q *queue.RecipientQueue, m mailer.Mailer, tpl model.Template, policy RetryPolicy, limiter *rate.Limiter, report func(model.SendOutcome)) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		queue:    q,
		mailer:   m,
		template: tpl,
		policy:   policy,
		limiter:  limiter,
		report:   report,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start spawns n workers.
func (p *WorkerPool) Start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Stop signals workers to stop taking new work. It does not wait.
func (p *WorkerPool) Stop() {
	p.cancel()
}

// Wait blocks until every worker has exited.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) run() {
	defer p.wg.Done()
	for {
		// A stop signal wins over remaining queued work.
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		item, ok := p.queue.Next()
		if !ok {
			return
		}
		p.dispatch(item)
	}
}

// dispatch sends to one recipient, retrying transient and throttled failures
// with capped exponential backoff, then marks and reports the outcome. The
// message is rendered here, at send time, so memory stays bounded by the
// number of in-flight sends.
func (p *WorkerPool) dispatch(item *queue.Item) {
	subject, body := RenderMessage(p.template, item.Recipient)
	msg := mailer.Message{
		To:          item.Identity,
		Subject:     subject,
		Body:        body,
		Attachments: p.template.Attachments,
	}

	var lastErr error
	for attempt := 0; attempt < p.policy.MaxAttempts; attempt++ {
		if p.limiter != nil {
			if err := p.limiter.Wait(p.ctx); err != nil {
				p.queue.Release(item)
				return
			}
		}

		err := p.send(msg)
		if err == nil {
			p.mark(item, model.OutcomeSent, "")
			return
		}
		lastErr = err

		kind := mailer.KindOf(err)
		if kind == mailer.Permanent || attempt == p.policy.MaxAttempts-1 {
			break
		}

		delay := p.backoff(attempt)
		if kind == mailer.Throttled {
			// The server asked us to slow down: back off twice as long.
			delay *= 2
			if p.policy.BackoffCap > 0 && delay > p.policy.BackoffCap {
				delay = p.policy.BackoffCap
			}
		}
		log.Printf("retry %d/%d for %s in %v: %v", attempt+1, p.policy.MaxAttempts, item.Identity, delay, err)

		select {
		case <-time.After(delay):
		case <-p.ctx.Done():
			// Interrupted mid-retry: hand the recipient back for resume.
			p.queue.Release(item)
			return
		}
	}
	p.mark(item, model.OutcomeFailed, lastErr.Error())
}

// send performs one attempt with the per-send timeout. The timeout context is
// deliberately detached from the pool context: pause and cancel never abort a
// send that is already on the wire.
func (p *WorkerPool) send(msg mailer.Message) error {
	ctx := context.Background()
	if p.policy.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.policy.SendTimeout)
		defer cancel()
	}
	return p.mailer.Send(ctx, msg)
}

func (p *WorkerPool) mark(item *queue.Item, status model.OutcomeStatus, reason string) {
	outcome, err := p.queue.Mark(item.Identity, status, reason)
	if err != nil {
		log.Println("⚠️ failed to mark outcome:", err)
		return
	}
	if p.report != nil {
		p.report(outcome)
	}
}

func (p *WorkerPool) backoff(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	d := p.policy.BackoffBase * time.Duration(1<<uint(attempt))
	if p.policy.BackoffCap > 0 && d > p.policy.BackoffCap {
		d = p.policy.BackoffCap
	}
	return d
}
