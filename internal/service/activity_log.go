// internal/service/activity_log.go
package service

import (
	"log"
	"sync"
	"time"

	"github.com/unclebandit/mailleopard-backend/internal/model"
)

// ActivitySink receives a durable copy of each entry (e.g. Postgres). Sink
// failures are logged and never affect the in-memory record.
type ActivitySink interface {
	Insert(runID string, entry model.LogEntry) error
}

// ActivityLog is the append-only in-memory record of everything a campaign
// run did: one entry per outcome plus every lifecycle transition, in the
// order they were reported.
type ActivityLog struct {
	mu      sync.Mutex
	runID   string
	entries []model.LogEntry
	sink    ActivitySink
}

func NewActivityLog(runID string, sink ActivitySink) *ActivityLog {
	return &ActivityLog{runID: runID, sink: sink}
}

// Append records one entry and tees it to the durable sink if configured.
func (l *ActivityLog) Append(kind, recipient, message string) model.LogEntry {
	entry := model.LogEntry{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Recipient: recipient,
		Message:   message,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	sink := l.sink
	runID := l.runID
	l.mu.Unlock()

	if sink != nil {
		if err := sink.Insert(runID, entry); err != nil {
			log.Println("⚠️ failed to persist activity entry:", err)
		}
	}
	return entry
}

// Export returns an ordered copy of all entries. It never mutates the log.
func (l *ActivityLog) Export() []model.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
