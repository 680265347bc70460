// internal/service/scheduler.go
package service

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/unclebandit/mailleopard-backend/internal/model"
)

// ScheduledCampaignStore lists due campaign definitions and marks them off.
type ScheduledCampaignStore interface {
	ListDue(now time.Time) ([]*model.Campaign, error)
	MarkEnqueued(id int) error
}

// Scheduler periodically pushes campaigns whose scheduled_at has passed onto
// the run queue.
type Scheduler struct {
	Store   ScheduledCampaignStore
	Enqueue func(model.RunRequest) error

	cron *cron.Cron
}

// Start checks for due campaigns every 30 seconds.
func (s *Scheduler) Start() error {
	c := cron.New()
	if _, err := c.AddFunc("@every 30s", s.tick); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *Scheduler) tick() {
	due, err := s.Store.ListDue(time.Now())
	if err != nil {
		log.Println("⚠️ scheduler: failed to list due campaigns:", err)
		return
	}

	for _, c := range due {
		req := model.RunRequest{
			Name:       c.Name,
			CSVPath:    c.CSVPath,
			Subject:    c.Subject,
			Body:       c.BodyTemplate,
			EmailField: c.EmailField,
		}
		if err := s.Enqueue(req); err != nil {
			log.Printf("⚠️ scheduler: failed to enqueue campaign %q: %v", c.Name, err)
			continue
		}
		if err := s.Store.MarkEnqueued(c.ID); err != nil {
			log.Println("⚠️ scheduler: failed to mark campaign enqueued:", err)
			continue
		}
		log.Printf("🚀 Scheduled campaign %q enqueued", c.Name)
	}
}
