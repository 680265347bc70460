// cmd/server/main.go
package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/unclebandit/mailleopard-backend/internal/controller"
	"github.com/unclebandit/mailleopard-backend/internal/db"
	"github.com/unclebandit/mailleopard-backend/internal/handler"
	"github.com/unclebandit/mailleopard-backend/internal/mailer"
	"github.com/unclebandit/mailleopard-backend/internal/repository"
	"github.com/unclebandit/mailleopard-backend/internal/service"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	// Init DB
	db.Init()

	campaignRepo := &repository.CampaignRepository{DB: db.DB}
	activityRepo := &repository.ActivityRepository{DB: db.DB}

	campaignService := service.NewCampaignService()
	campaignService.RunRepo = campaignRepo
	campaignService.Sink = activityRepo

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
		CampaignRepo:    campaignRepo,
		MailerConfig:    mailer.ConfigFromEnv(),
	}

	activityHandler := &handler.ActivityHandler{
		Service: campaignService,
		Repo:    activityRepo,
	}

	scheduler := &service.Scheduler{
		Store:   campaignRepo,
		Enqueue: controller.PublishRunRequest,
	}
	if err := scheduler.Start(); err != nil {
		log.Fatal("Failed to start scheduler:", err)
	}

	r := chi.NewRouter()

	// Campaign routes
	r.Post("/campaigns/start", campaignController.StartCampaign)
	r.Post("/campaigns/pause", campaignController.PauseCampaign)
	r.Post("/campaigns/resume", campaignController.ResumeCampaign)
	r.Post("/campaigns/cancel", campaignController.CancelCampaign)
	r.Post("/campaigns/test-send", campaignController.TestSend)
	r.Post("/campaigns/enqueue", campaignController.EnqueueCampaign)
	r.Post("/campaigns/schedule", campaignController.ScheduleCampaign)
	r.Get("/campaigns/progress", campaignController.Progress)
	r.Get("/campaigns/log", activityHandler.ExportHandler)
	r.Get("/campaigns/runs/{runID}/log", activityHandler.RunExportHandler)

	log.Println("🚀 Server running on :8080")
	log.Fatal(http.ListenAndServe(":8080", r))
}
