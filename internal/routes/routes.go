package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/config"
	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/handlers"
	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/middleware"
	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/repository"
	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/services"
	sessionws "github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/websocket"
)

func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool) {
	userRepo := repository.NewUserRepository(db)
	skillRepo := repository.NewSkillRepository(db)
	sessionStore := repository.NewSessionStore(db)

	hub := sessionws.NewHub()
	go hub.Run()

	pointsService := services.NewPointsService(userRepo)
	schedulingService := services.NewSchedulingService(
		sessionStore,
		userRepo,
		skillRepo,
		pointsService,
		hub,
		services.Settings{
			DefaultPointCost: cfg.DefaultPointCost,
			CancelPenalty:    cfg.CancelPenalty,
			FreeSessionBonus: cfg.FreeSessionBonus,
		},
	)

	authHandler := handlers.NewAuthHandler(userRepo, cfg.JWTSecret, cfg.StartingBalance)
	sessionHandler := handlers.NewSessionHandler(schedulingService)
	dashboardHandler := handlers.NewDashboardHandler(schedulingService, pointsService, userRepo)
	pointsHandler := handlers.NewPointsHandler(pointsService)
	skillHandler := handlers.NewSkillHandler(skillRepo)
	eventsHandler := handlers.NewEventsHandler(hub, cfg.JWTSecret)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	sessions := authProtected.Group("/sessions")
	sessions.Post("/book", sessionHandler.BookSession)
	sessions.Get("", sessionHandler.ListSessions)
	sessions.Get("/requests/pending", middleware.RequireRole("tutor", "admin"), sessionHandler.PendingRequests)
	sessions.Get("/notifications/count", sessionHandler.NotificationCount)
	sessions.Get("/:id", sessionHandler.GetSession)
	sessions.Post("/:id/accept", sessionHandler.AcceptSession)
	sessions.Post("/:id/reject", sessionHandler.RejectSession)
	sessions.Post("/:id/complete", sessionHandler.CompleteSession)
	sessions.Post("/:id/cancel", sessionHandler.CancelSession)

	authProtected.Get("/dashboard", dashboardHandler.GetDashboard)
	authProtected.Get("/points/balance", pointsHandler.GetBalance)
	authProtected.Get("/skills", skillHandler.ListSkills)

	api.Use("/v1/ws", eventsHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(eventsHandler.HandleWebSocket))
}
