//cmd/seeder/main.go
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS campaigns (
    id SERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    subject TEXT NOT NULL,
    body_template TEXT NOT NULL,
    csv_path TEXT NOT NULL,
    email_field TEXT NOT NULL DEFAULT 'email',
    status TEXT NOT NULL DEFAULT 'scheduled',
    scheduled_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaign_runs (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    total INT NOT NULL DEFAULT 0,
    sent INT NOT NULL DEFAULT 0,
    failed INT NOT NULL DEFAULT 0,
    skipped INT NOT NULL DEFAULT 0,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS activity_entries (
    id BIGSERIAL PRIMARY KEY,
    run_id UUID NOT NULL,
    ts TIMESTAMPTZ NOT NULL,
    kind TEXT NOT NULL,
    recipient TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT ''
);
`

const sampleCampaign = `
INSERT INTO campaigns (name, subject, body_template, csv_path, email_field, scheduled_at)
VALUES (
    'welcome wave',
    'Welcome, {{first_name}}!',
    'Hi {{first_name}}, thanks for signing up. Your plan: {{plan}}.',
    'seed/recipients.csv',
    'email',
    now() + interval '5 minutes'
);
`

func main() {
	dsn := os.Getenv("DATABASE_URL")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		log.Fatal("failed to create schema:", err)
	}
	fmt.Println("Schema created")

	if _, err := db.Exec(sampleCampaign); err != nil {
		log.Fatal("failed to insert sample campaign:", err)
	}
	fmt.Println("Seeded: sample campaign")

	fmt.Println("Database seeding completed successfully!")
}
