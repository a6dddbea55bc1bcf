package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seven7-ai/mpesa-gobackend/internal/config"
	"github.com/seven7-ai/mpesa-gobackend/internal/db"
	"github.com/seven7-ai/mpesa-gobackend/internal/handlers"
	"github.com/seven7-ai/mpesa-gobackend/internal/mpesa"
	"github.com/seven7-ai/mpesa-gobackend/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(".env"); err != nil {
		logger.Warn("no .env file loaded", "error", err)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("invalid merchant config", "error", err)
		os.Exit(1)
	}

	uri := os.Getenv("MONGOURI")
	if uri == "" {
		logger.Error("MONGOURI environment variable not set")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	mongoClient, err := db.Connect(ctx, uri)
	if err != nil {
		logger.Error("failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer func() {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer disconnectCancel()
		if err := mongoClient.Disconnect(disconnectCtx); err != nil {
			logger.Error("error disconnecting from MongoDB", "error", err)
		}
	}()
	logger.Info("connected to MongoDB")

	database := mongoClient.Database("mpesadb")
	recordStore := store.NewMongoStore(database, logger)
	if err := recordStore.EnsureIndexes(ctx); err != nil {
		logger.Error("failed to create indexes", "error", err)
		os.Exit(1)
	}

	client := mpesa.NewClient(cfg, mpesa.WithLogger(logger))

	paymentHandler := handlers.NewPaymentHandler(client, recordStore, []byte(os.Getenv("JWT_SECRET")), logger)
	callbackHandler := handlers.NewCallbackHandler(recordStore, os.Getenv("CALLBACK_TOKEN"), logger)

	router := mux.NewRouter()
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "HEAD")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/api/payment", paymentHandler.CreatePayment).Methods("POST")
	router.HandleFunc("/api/payment/status", paymentHandler.CheckStatus).Methods("POST")
	router.HandleFunc("/api/payments", paymentHandler.GetPayments).Methods("GET")

	router.HandleFunc("/api/mpesa/callback", callbackHandler.STKCallback).Methods("POST")
	router.HandleFunc("/api/mpesa/result", callbackHandler.StatusResult).Methods("POST")
	router.HandleFunc("/api/mpesa/timeout", callbackHandler.StatusTimeout).Methods("POST")

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:         "0.0.0.0:" + port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	logger.Info("server running", "port", port, "environment", cfg.Environment)
	if err := server.ListenAndServe(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
