package repository

import (
	"database/sql"

	"github.com/unclebandit/mailleopard-backend/internal/model"
)

// ActivityRepository stores the durable copy of the activity log, one row per
// outcome or lifecycle entry.
type ActivityRepository struct {
	DB *sql.DB
}

// Insert appends one entry for a run.
func (r *ActivityRepository) Insert(runID string, entry model.LogEntry) error {
	query := `
        INSERT INTO activity_entries (run_id, ts, kind, recipient, message)
        VALUES ($1, $2, $3, $4, $5)
    `
	_, err := r.DB.Exec(query, runID, entry.Timestamp, entry.Kind, entry.Recipient, entry.Message)
	return err
}

// ListByRun returns the entries for a run in append order.
func (r *ActivityRepository) ListByRun(runID string) ([]model.LogEntry, error) {
	query := `
        SELECT ts, kind, recipient, message
        FROM activity_entries
        WHERE run_id = $1
        ORDER BY id
    `
	rows, err := r.DB.Query(query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		if err := rows.Scan(&e.Timestamp, &e.Kind, &e.Recipient, &e.Message); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
