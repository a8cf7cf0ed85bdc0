package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xtrntr/spot/internal/api"
	"github.com/xtrntr/spot/internal/auth"
	"github.com/xtrntr/spot/internal/config"
	"github.com/xtrntr/spot/internal/db"
	"github.com/xtrntr/spot/internal/exchange"
	"github.com/xtrntr/spot/internal/money"
	"github.com/xtrntr/spot/internal/notify"
)

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Main entry point: sets up database, exchange services, and HTTP server
func main() {
	ctx := context.Background()

	logger, err := newLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()

	signupBalance, err := money.Parse(cfg.SignupBalanceUSD, money.USDScale)
	if err != nil {
		logger.Fatal("invalid signup balance", zap.Error(err))
	}

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(ctx)

	hub := notify.NewHub(logger)
	orderService := exchange.NewOrderService(database, logger)
	matchingService := exchange.NewMatchingService(database, hub, logger)
	authService := auth.NewAuthService(database, cfg.JWTSecret, signupBalance)

	dispatcher := exchange.NewDispatcher(matchingService, cfg.MatchQueueSize, logger)
	go dispatcher.Run(ctx)

	handler := api.NewHandler(database, orderService, dispatcher, authService, hub, logger)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Get("/profile", handler.GetProfile)
		r.Get("/orders", handler.GetOrderBook)
		r.Post("/orders", handler.PlaceOrder)
		r.Post("/orders/preview", handler.PreviewOrder)
		r.Post("/orders/{id}/cancel", handler.CancelOrder)
		r.Get("/orders/mine", handler.GetMyOrders)
		r.Get("/trades", handler.GetMyTrades)
		r.Get("/ws", handler.ServeWS)
	})

	logger.Info("starting server", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
