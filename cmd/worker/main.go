// cmd/worker/main.go
package main

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/streadway/amqp"

	"github.com/unclebandit/mailleopard-backend/internal/controller"
	"github.com/unclebandit/mailleopard-backend/internal/csvio"
	"github.com/unclebandit/mailleopard-backend/internal/db"
	"github.com/unclebandit/mailleopard-backend/internal/mailer"
	"github.com/unclebandit/mailleopard-backend/internal/model"
	"github.com/unclebandit/mailleopard-backend/internal/repository"
	"github.com/unclebandit/mailleopard-backend/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	db.Init()
	campaignRepo := &repository.CampaignRepository{DB: db.DB}
	activityRepo := &repository.ActivityRepository{DB: db.DB}

	// Connect to RabbitMQ
	conn, err := amqp.Dial(controller.AMQPURL())
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ:", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("Failed to open a channel:", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		controller.RunQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		log.Fatal("Failed to declare queue:", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		log.Fatal("Failed to register consumer:", err)
	}

	forever := make(chan bool)

	go func() {
		for d := range msgs {
			var req model.RunRequest
			if err := json.Unmarshal(d.Body, &req); err != nil {
				log.Println("Dropping malformed run request:", err)
				d.Ack(false)
				continue
			}

			if err := executeRun(req, campaignRepo, activityRepo); err != nil {
				log.Println("Failed to execute run:", err)
				// Retry logic: republish with a bumped count, up to 3 times.
				// A plain Nack-requeue keeps the original headers, so the
				// count would never advance.
				attempts := retryCount(d.Headers)
				if attempts < 3 {
					if err := republishRun(ch, d.Body, attempts+1); err != nil {
						log.Println("Failed to requeue run request:", err)
						d.Nack(false, true)
						continue
					}
				}
			}

			d.Ack(false)
		}
	}()

	log.Println("Worker running, waiting for messages...")
	<-forever
}

// retryCount reads the x-retry-count header. Foreign publishers may set it
// with any integer type, or not at all; anything unreadable counts as zero.
func retryCount(headers amqp.Table) int32 {
	switch v := headers["x-retry-count"].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	default:
		return 0
	}
}

func republishRun(ch *amqp.Channel, body []byte, attempts int32) error {
	return ch.Publish(
		"",
		controller.RunQueueName,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Headers:     amqp.Table{"x-retry-count": attempts},
			Body:        body,
		},
	)
}

// executeRun drives one campaign run to a terminal phase and blocks until it
// gets there.
func executeRun(req model.RunRequest, runRepo *repository.CampaignRepository, sink *repository.ActivityRepository) error {
	recipients, err := csvio.ReadRecipients(req.CSVPath)
	if err != nil {
		return err
	}

	body := req.Body
	if body == "" && req.TemplatePath != "" {
		raw, err := os.ReadFile(req.TemplatePath)
		if err != nil {
			return err
		}
		body = string(raw)
	}

	svc := service.NewCampaignService()
	svc.RunRepo = runRepo
	svc.Sink = sink

	cfg := service.StartConfig{
		Name:       req.Name,
		Recipients: recipients,
		EmailField: req.EmailField,
		Template: model.Template{
			Subject:     req.Subject,
			Body:        body,
			Attachments: req.Attachments,
		},
		Mailer:        mailer.ConfigFromEnv(),
		Concurrency:   req.Concurrency,
		MaxAttempts:   req.MaxAttempts,
		SendTimeout:   time.Duration(req.SendTimeoutMs) * time.Millisecond,
		BackoffBase:   time.Duration(req.BackoffBaseMs) * time.Millisecond,
		BackoffCap:    time.Duration(req.BackoffCapMs) * time.Millisecond,
		RatePerSecond: req.RatePerSecond,
	}

	if err := svc.Start(cfg); err != nil {
		return err
	}
	<-svc.Done()

	snap := svc.Progress()
	log.Printf("✅ Campaign %q finished: %d sent, %d failed, %d skipped", req.Name, snap.Sent, snap.Failed, snap.Skipped)
	return nil
}
