package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"time"

	"database/sql"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/meridianpay/cardcore/internal/cardnum"
	"github.com/meridianpay/cardcore/internal/config"
	"github.com/meridianpay/cardcore/internal/handler"
	"github.com/meridianpay/cardcore/internal/integrations/rates"
	"github.com/meridianpay/cardcore/internal/middleware"
	"github.com/meridianpay/cardcore/internal/notify"
	"github.com/meridianpay/cardcore/internal/repository"
	"github.com/meridianpay/cardcore/internal/service"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Initialize layers
	store := repository.NewPostgres(db)
	codec := cardnum.NewCodec(cfg.IssuerSegmentLen, rand.Reader)
	rateClient := rates.NewClient(cfg, logger)
	notifier := notify.NewSender(cfg, logger)
	svc := service.NewService(store, codec, rateClient, notifier, logger, cfg)
	h := handler.NewHandler(svc)

	// Scheduled jobs: daily statement batch, periodic stale-hold sweep
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.StatementCron, func() {
		if _, err := svc.RunStatementBatch(context.Background(), time.Now()); err != nil {
			logger.Errorf("Statement batch failed: %v", err)
		}
	}); err != nil {
		logger.Fatalf("Failed to schedule statement batch: %v", err)
	}
	if _, err := scheduler.AddFunc(cfg.SweepCron, func() {
		if _, err := svc.ExpireStaleAuthorizations(context.Background()); err != nil {
			logger.Errorf("Authorization sweep failed: %v", err)
		}
	}); err != nil {
		logger.Fatalf("Failed to schedule authorization sweep: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Setup router
	r := mux.NewRouter()
	// Public payment surface
	r.HandleFunc("/payments", h.Pay).Methods("POST")
	// Institution-facing routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	authRouter.HandleFunc("/cards", h.IssueCard).Methods("POST")
	authRouter.HandleFunc("/cards/{id}/reissue", h.ReissueCard).Methods("POST")
	authRouter.HandleFunc("/cards/{id}/status", h.SetCardStatus).Methods("POST")
	authRouter.HandleFunc("/authorizations", h.Authorize).Methods("POST")
	authRouter.HandleFunc("/transactions", h.ProcessTransaction).Methods("POST")
	authRouter.HandleFunc("/transactions/{id}/capture", h.Capture).Methods("POST")
	authRouter.HandleFunc("/transactions/{id}/reverse", h.Reverse).Methods("POST")
	authRouter.HandleFunc("/statements/run", h.RunStatementBatch).Methods("POST")

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
