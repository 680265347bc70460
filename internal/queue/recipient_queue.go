package queue

import (
	"fmt"
	"sync"
	"time"

	appErrors "github.com/unclebandit/mailleopard-backend/internal/errors"
	"github.com/unclebandit/mailleopard-backend/internal/model"
)

// Status of one queued recipient.
type Status int

const (
	StatusPending Status = iota
	StatusSending
	StatusSent
	StatusFailed
	StatusSkipped
)

// Item is one recipient plus its processing state. Fields other than Status
// and Reason are immutable after construction.
type Item struct {
	Identity  string
	Recipient model.Recipient
	Status    Status
	Reason    string
}

// RecipientQueue is the ordered, de-duplicated recipient sequence for one
// campaign run. All operations are safe for concurrent workers; each
// recipient is leased at most once and marked at most once.
type RecipientQueue struct {
	mu    sync.Mutex
	items []*Item
	index map[string]*Item
	next  int

	sent    int
	failed  int
	skipped int
}

// NewRecipientQueue builds the queue. The chosen email field must exist in
// the recipient schema. Rows with a blank address stay in the total as
// skipped, and later duplicates of an identity are skipped with the first
// occurrence winning.
func NewRecipientQueue(recipients []model.Recipient, emailField string) (*RecipientQueue, error) {
	if len(recipients) == 0 {
		return nil, appErrors.NewNoRecipients()
	}
	inSchema := false
	for _, r := range recipients {
		if r.HasField(emailField) {
			inSchema = true
			break
		}
	}
	if !inSchema {
		return nil, appErrors.NewInvalidField(emailField)
	}

	q := &RecipientQueue{index: make(map[string]*Item, len(recipients))}
	for _, r := range recipients {
		identity := r.Identity(emailField)
		item := &Item{Identity: identity, Recipient: r, Status: StatusPending}
		switch {
		case identity == "":
			item.Status = StatusSkipped
			item.Reason = "missing address"
			q.skipped++
		case q.index[identity] != nil:
			item.Status = StatusSkipped
			item.Reason = "duplicate"
			q.skipped++
		default:
			q.index[identity] = item
		}
		q.items = append(q.items, item)
	}
	return q, nil
}

// Next leases the next pending recipient in insertion order. ok is false when
// nothing is pending.
func (q *RecipientQueue) Next() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.next < len(q.items) {
		item := q.items[q.next]
		q.next++
		if item.Status == StatusPending {
			item.Status = StatusSending
			return item, true
		}
	}
	return nil, false
}

// Mark records the terminal outcome for identity. A second mark for the same
// identity is rejected with AlreadyMarked, so concurrent workers can never
// double-count a recipient.
func (q *RecipientQueue) Mark(identity string, status model.OutcomeStatus, reason string) (model.SendOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := q.index[identity]
	if item == nil {
		return model.SendOutcome{}, fmt.Errorf("unknown recipient %q", identity)
	}
	if item.Status == StatusSent || item.Status == StatusFailed || item.Status == StatusSkipped {
		return model.SendOutcome{}, appErrors.NewAlreadyMarked(identity)
	}

	switch status {
	case model.OutcomeSent:
		item.Status = StatusSent
		q.sent++
	case model.OutcomeFailed:
		item.Status = StatusFailed
		q.failed++
	case model.OutcomeSkipped:
		item.Status = StatusSkipped
		q.skipped++
	default:
		return model.SendOutcome{}, fmt.Errorf("unknown outcome status %q", status)
	}
	item.Reason = reason

	return model.SendOutcome{
		Recipient: identity,
		Status:    status,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Release returns a leased item to pending, e.g. when a retry wait was
// interrupted by pause or cancel. The cursor moves back so insertion order is
// preserved on resume.
func (q *RecipientQueue) Release(item *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item.Status != StatusSending {
		return
	}
	item.Status = StatusPending
	for i, it := range q.items {
		if it == item {
			if i < q.next {
				q.next = i
			}
			break
		}
	}
}

// SkipPending marks every still-pending recipient skipped with the given
// reason. Called on cancel, after the workers have quiesced.
func (q *RecipientQueue) SkipPending(reason string) []model.SendOutcome {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	var out []model.SendOutcome
	for _, item := range q.items {
		if item.Status != StatusPending {
			continue
		}
		item.Status = StatusSkipped
		item.Reason = reason
		q.skipped++
		out = append(out, model.SendOutcome{
			Recipient: item.Identity,
			Status:    model.OutcomeSkipped,
			Reason:    reason,
			Timestamp: now,
		})
	}
	return out
}

// BuildSkips returns the outcomes recorded during construction (duplicates
// and blank addresses) so the controller can log and report them. Call it
// before any worker marks an outcome.
func (q *RecipientQueue) BuildSkips() []model.SendOutcome {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	var out []model.SendOutcome
	for _, item := range q.items {
		if item.Status == StatusSkipped {
			out = append(out, model.SendOutcome{
				Recipient: item.Identity,
				Status:    model.OutcomeSkipped,
				Reason:    item.Reason,
				Timestamp: now,
			})
		}
	}
	return out
}

// Snapshot returns the live counters. Pending covers both untaken and
// in-flight recipients, so sent+failed+skipped+pending always equals total.
func (q *RecipientQueue) Snapshot() model.Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := len(q.items)
	return model.Snapshot{
		Total:   total,
		Sent:    q.sent,
		Failed:  q.failed,
		Skipped: q.skipped,
		Pending: total - q.sent - q.failed - q.skipped,
	}
}
