package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"database/sql"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/kupontech/kupon-ledger/internal/config"
	"github.com/kupontech/kupon-ledger/internal/handler"
	"github.com/kupontech/kupon-ledger/internal/middleware"
	"github.com/kupontech/kupon-ledger/internal/repository"
	"github.com/kupontech/kupon-ledger/internal/service"
	"github.com/kupontech/kupon-ledger/internal/utils/email"
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
	store := repository.NewPostgresStore(db)
	svc := service.NewService(store, logger, cfg)
	svc.SetReminderSender(email.NewSender(cfg, logger))
	h := handler.NewHandler(svc, logger)

	// Setup router
	r := mux.NewRouter()
	// Public routes
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	authRouter.HandleFunc("/customers", h.CreateCustomer).Methods("POST")
	authRouter.HandleFunc("/customers", h.ListCustomers).Methods("GET")
	authRouter.HandleFunc("/customers/{id}", h.UpdateCustomer).Methods("PUT")
	authRouter.HandleFunc("/customers/{id}", h.DeleteCustomer).Methods("DELETE")
	authRouter.HandleFunc("/agents", h.CreateSalesAgent).Methods("POST")
	authRouter.HandleFunc("/agents", h.ListSalesAgents).Methods("GET")
	authRouter.HandleFunc("/agents/{id}", h.UpdateSalesAgent).Methods("PUT")
	authRouter.HandleFunc("/agents/{id}", h.DeleteSalesAgent).Methods("DELETE")
	authRouter.HandleFunc("/contracts", h.CreateContract).Methods("POST")
	authRouter.HandleFunc("/contracts", h.ListContracts).Methods("GET")
	authRouter.HandleFunc("/contracts/{id}", h.GetContract).Methods("GET")
	authRouter.HandleFunc("/contracts/{id}/cancel", h.CancelContract).Methods("POST")
	authRouter.HandleFunc("/payments", h.RecordPayment).Methods("POST")
	authRouter.HandleFunc("/limit", h.LimitStatus).Methods("GET")
	authRouter.HandleFunc("/manifest", h.Manifest).Methods("GET")
	authRouter.HandleFunc("/reports/export.csv", h.ExportCSV).Methods("GET")
	authRouter.HandleFunc("/reports/export.xml", h.ExportSpreadsheet).Methods("GET")

	// Schedule background jobs
	c := cron.New()
	if _, err := c.AddFunc(cfg.ReminderCron, func() {
		sent, err := svc.SendOverdueReminders(context.Background(), time.Now().UTC())
		if err != nil {
			logger.Errorf("Overdue reminder job failed: %v", err)
			return
		}
		logger.Infof("Overdue reminder job finished, %d notice(s) sent", sent)
	}); err != nil {
		logger.Fatalf("Failed to schedule reminder job: %v", err)
	}
	if _, err := c.AddFunc("0 7 1 * *", func() {
		decision, err := svc.LimitStatus(context.Background(), time.Now().UTC())
		if err != nil {
			logger.Errorf("Limit status job failed: %v", err)
			return
		}
		logger.WithFields(logrus.Fields{
			"used":      decision.Used,
			"remaining": decision.Remaining,
			"ceiling":   decision.Ceiling,
		}).Info("Monthly lending limit opening position")
	}); err != nil {
		logger.Fatalf("Failed to schedule limit status job: %v", err)
	}
	c.Start()
	defer c.Stop()

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
