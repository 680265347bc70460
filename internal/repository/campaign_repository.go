package repository

import (
	"database/sql"
	"time"

	"github.com/unclebandit/mailleopard-backend/internal/model"
)

// CampaignRepositoryInterface defines the persistence methods used by the
// scheduler, the service and the HTTP layer.
type CampaignRepositoryInterface interface {
	// Scheduled campaign definitions
	CreateScheduled(c *model.Campaign) error
	GetByID(id int) (*model.Campaign, error)
	ListDue(now time.Time) ([]*model.Campaign, error)
	MarkEnqueued(id int) error

	// Campaign runs
	CreateRun(run *model.CampaignRun) error
	FinishRun(id, status string, snap model.Snapshot) error
	GetRun(id string) (*model.CampaignRun, error)
}

// CampaignRepository is the Postgres implementation.
type CampaignRepository struct {
	DB *sql.DB
}

// ====================== Scheduled definitions ======================

func (r *CampaignRepository) CreateScheduled(c *model.Campaign) error {
	c.CreatedAt = time.Now().UTC()
	if c.Status == "" {
		c.Status = "scheduled"
	}
	if c.EmailField == "" {
		c.EmailField = "email"
	}
	query := `
        INSERT INTO campaigns (name, subject, body_template, csv_path, email_field, status, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	return r.DB.QueryRow(query, c.Name, c.Subject, c.BodyTemplate, c.CSVPath, c.EmailField, c.Status, c.ScheduledAt, c.CreatedAt).Scan(&c.ID)
}

// GetByID fetches a campaign definition by ID
func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	query := `
        SELECT id, name, subject, body_template, csv_path, email_field, status, scheduled_at, created_at
        FROM campaigns
        WHERE id = $1
    `
	var c model.Campaign
	err := r.DB.QueryRow(query, id).Scan(
		&c.ID, &c.Name, &c.Subject, &c.BodyTemplate, &c.CSVPath, &c.EmailField, &c.Status, &c.ScheduledAt, &c.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // not found
		}
		return nil, err
	}
	return &c, nil
}

// ListDue returns scheduled campaigns whose scheduled_at has passed.
func (r *CampaignRepository) ListDue(now time.Time) ([]*model.Campaign, error) {
	query := `
        SELECT id, name, subject, body_template, csv_path, email_field, status, scheduled_at, created_at
        FROM campaigns
        WHERE status = 'scheduled' AND scheduled_at IS NOT NULL AND scheduled_at <= $1
        ORDER BY scheduled_at
    `
	rows, err := r.DB.Query(query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []*model.Campaign
	for rows.Next() {
		var c model.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Subject, &c.BodyTemplate, &c.CSVPath, &c.EmailField, &c.Status, &c.ScheduledAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		due = append(due, &c)
	}
	return due, rows.Err()
}

func (r *CampaignRepository) MarkEnqueued(id int) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET status = 'enqueued' WHERE id = $1`, id)
	return err
}

// ====================== Campaign runs ======================

func (r *CampaignRepository) CreateRun(run *model.CampaignRun) error {
	query := `
        INSERT INTO campaign_runs (id, name, status, total, sent, failed, skipped, started_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err := r.DB.Exec(query, run.ID, run.Name, run.Status, run.Total, run.Sent, run.Failed, run.Skipped, run.StartedAt)
	return err
}

// FinishRun records the terminal status and final counters of a run.
func (r *CampaignRepository) FinishRun(id, status string, snap model.Snapshot) error {
	query := `
        UPDATE campaign_runs
        SET status=$1, total=$2, sent=$3, failed=$4, skipped=$5, finished_at=$6
        WHERE id=$7
    `
	_, err := r.DB.Exec(query, status, snap.Total, snap.Sent, snap.Failed, snap.Skipped, time.Now().UTC(), id)
	return err
}

func (r *CampaignRepository) GetRun(id string) (*model.CampaignRun, error) {
	query := `
        SELECT id, name, status, total, sent, failed, skipped, started_at, finished_at
        FROM campaign_runs
        WHERE id = $1
    `
	var run model.CampaignRun
	err := r.DB.QueryRow(query, id).Scan(
		&run.ID, &run.Name, &run.Status, &run.Total, &run.Sent, &run.Failed, &run.Skipped, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}
