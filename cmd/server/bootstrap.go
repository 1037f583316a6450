package main

import (
	"time"

	"github.com/teamboard/backend/internal/config"
	"github.com/teamboard/backend/internal/handlers"
	"github.com/teamboard/backend/internal/models"
	"github.com/teamboard/backend/internal/realtime"
	"github.com/teamboard/backend/internal/services"
	"github.com/teamboard/backend/internal/utils"
	"github.com/teamboard/backend/pkg/logger"
)

const (
	logRetentionDays  = 30
	joinRequestMaxAge = 30 * 24 * time.Hour
)

// appServices holds the initialized services and handlers the routes
// need.
type appServices struct {
	hub       *realtime.Hub
	taskQueue services.TaskQueue
	worker    *services.Worker

	authHandler         *handlers.AuthHandler
	userHandler         *handlers.UserHandler
	projectHandler      *handlers.ProjectHandler
	teamHandler         *handlers.TeamHandler
	messageHandler      *handlers.MessageHandler
	taskHandler         *handlers.TaskHandler
	notificationHandler *handlers.NotificationHandler
	systemLogHandler    *handlers.SystemLogHandler
	healthHandler       *handlers.HealthHandler
	socketHandler       *handlers.SocketHandler
}

// bootstrap initializes all application dependencies: database,
// realtime hub, queue, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	db := models.GetDB()

	services.InitSystemLogger(db)
	services.StartLogCleanupScheduler(db, logRetentionDays)
	services.StartJoinRequestSweeper(db, joinRequestMaxAge)

	hub := realtime.NewHub()

	// Notification queue: async via Redis when enabled, otherwise the
	// in-process sync queue. Either way missed deliveries end up in the
	// inbox table via the notification service.
	notificationService := services.NewNotificationService(db)
	taskQueue := services.InitTaskQueue(cfg)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(notificationService.Store)
	}

	var worker *services.Worker
	if cfg.Redis.Enabled {
		worker = services.InitWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(notificationService.Store)
			if err := worker.Start(); err != nil {
				logger.Warn().Err(err).Msg("Failed to start notification worker")
			}
		}
	}

	dispatcher := services.NewDispatcher(hub, taskQueue)
	joinRequestService := services.NewJoinRequestService(db, dispatcher)
	chatService := services.NewChatService(db, dispatcher, &cfg.Chat)
	projectService := services.NewProjectService(db, dispatcher)
	taskService := services.NewTaskService(db)

	authService := services.NewAuthService(db, &cfg.JWT)
	if err := authService.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	return &appServices{
		hub:       hub,
		taskQueue: taskQueue,
		worker:    worker,

		authHandler:         handlers.NewAuthHandler(db, &cfg.JWT),
		userHandler:         handlers.NewUserHandler(db),
		projectHandler:      handlers.NewProjectHandler(projectService),
		teamHandler:         handlers.NewTeamHandler(joinRequestService),
		messageHandler:      handlers.NewMessageHandler(chatService),
		taskHandler:         handlers.NewTaskHandler(taskService),
		notificationHandler: handlers.NewNotificationHandler(db),
		systemLogHandler:    handlers.NewSystemLogHandler(db),
		healthHandler:       handlers.NewHealthHandler(hub),
		socketHandler:       handlers.NewSocketHandler(db, hub, joinRequestService, chatService),
	}
}

// shutdown gracefully stops schedulers, the queue, and all sockets.
func (s *appServices) shutdown() {
	services.StopLogCleanupScheduler()
	services.StopJoinRequestSweeper()
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
	s.hub.Close()
}
