// cmd/sender/main.go
package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/unclebandit/mailleopard-backend/internal/csvio"
	"github.com/unclebandit/mailleopard-backend/internal/mailer"
	"github.com/unclebandit/mailleopard-backend/internal/model"
	"github.com/unclebandit/mailleopard-backend/internal/service"
)

func main() {
	csvPath := flag.String("csv", "", "recipient CSV file (header row is the attribute schema)")
	templatePath := flag.String("template", "", "file holding the body template")
	subject := flag.String("subject", "", "subject line, may contain {{attribute}} placeholders")
	field := flag.String("field", "email", "CSV column holding the address")
	attach := flag.String("attach", "", "comma-separated attachment paths")
	workers := flag.Int("workers", 0, "concurrent senders (0 = default)")
	attempts := flag.Int("attempts", 0, "max delivery attempts per recipient (0 = default)")
	ratePerSec := flag.Float64("rate", 0, "max sends per second (0 = unlimited)")
	name := flag.String("name", "cli campaign", "campaign name for the activity log")
	flag.Parse()

	if *csvPath == "" || *templatePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	recipients, err := csvio.ReadRecipients(*csvPath)
	if err != nil {
		log.Fatal(err)
	}
	body, err := os.ReadFile(*templatePath)
	if err != nil {
		log.Fatal(err)
	}

	var attachments []string
	if *attach != "" {
		attachments = strings.Split(*attach, ",")
	}

	svc := service.NewCampaignService()
	svc.Subscribe(func(e model.Event) {
		if e.Kind != model.EventOutcome || e.Outcome == nil {
			return
		}
		log.Printf("%s %s (%d/%d done)", e.Outcome.Status, e.Outcome.Recipient,
			e.Snapshot.Total-e.Snapshot.Pending, e.Snapshot.Total)
	})

	cfg := service.StartConfig{
		Name:       *name,
		Recipients: recipients,
		EmailField: *field,
		Template: model.Template{
			Subject:     *subject,
			Body:        string(body),
			Attachments: attachments,
		},
		Mailer:        mailer.ConfigFromEnv(),
		Concurrency:   *workers,
		MaxAttempts:   *attempts,
		RatePerSecond: *ratePerSec,
	}

	if err := svc.Start(cfg); err != nil {
		log.Fatal("Failed to start campaign:", err)
	}
	<-svc.Done()

	snap := svc.Progress()
	log.Printf("✅ Campaign %q finished: %d sent, %d failed, %d skipped", *name, snap.Sent, snap.Failed, snap.Skipped)
	if snap.Failed > 0 {
		os.Exit(1)
	}
}
