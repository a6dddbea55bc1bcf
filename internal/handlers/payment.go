package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/seven7-ai/mpesa-gobackend/internal/models"
	"github.com/seven7-ai/mpesa-gobackend/internal/mpesa"
	"github.com/seven7-ai/mpesa-gobackend/internal/store"
)

var paymentsInitiated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mpesa_payments_initiated_total",
	Help: "STK push initiations by outcome",
}, []string{"outcome"})

// PaymentStore is the slice of the record store the merchant API needs.
type PaymentStore interface {
	store.RecordSink
	ListNotifications(ctx context.Context, limit int64) ([]models.StoredNotification, error)
}

// PaymentHandler is the merchant-facing API: initiate a push payment,
// reconcile its status, and list stored outcomes.
type PaymentHandler struct {
	client    *mpesa.Client
	store     PaymentStore
	jwtSecret []byte
	logger    *slog.Logger
}

func NewPaymentHandler(client *mpesa.Client, st PaymentStore, jwtSecret []byte, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		client:    client,
		store:     st,
		jwtSecret: jwtSecret,
		logger:    logger.With(slog.String("component", "payments")),
	}
}

func (h *PaymentHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if len(h.jwtSecret) == 0 {
		return true
	}
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		http.Error(w, `{"error":"Authorization header required"}`, http.StatusUnauthorized)
		return false
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		http.Error(w, `{"error":"Invalid token"}`, http.StatusUnauthorized)
		return false
	}
	return true
}

// CreatePayment initiates an STK push. A missing account reference gets a
// generated order id so the outcome stays traceable.
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	var request mpesa.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, `{"error":"Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if request.AccountReference == "" {
		request.AccountReference = "ORD-" + uuid.NewString()[:8]
	}

	ack, err := h.client.InitiatePayment(r.Context(), request)
	if err != nil {
		h.logger.Error("payment initiation failed", "error", err)
		paymentsInitiated.WithLabelValues("error").Inc()
		writeDomainError(w, err)
		return
	}

	paymentsInitiated.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusCreated, ack)
}

// CheckStatus runs the status reconciliation poll for one request and
// persists the outcome. This blocks for up to the configured polling
// budget; callers on a latency budget should rely on the async
// notification channel instead.
func (h *PaymentHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	var query mpesa.StatusQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		http.Error(w, `{"error":"Invalid request body"}`, http.StatusBadRequest)
		return
	}

	record, err := h.client.CheckStatus(r.Context(), query)
	if err != nil {
		h.logger.Error("status check failed", "error", err)
		writeDomainError(w, err)
		return
	}

	if err := h.store.SaveNotification(r.Context(), *record, models.CallbackStatusResult); err != nil {
		h.logger.Error("failed to store polled status",
			"checkout_request_id", record.CheckoutRequestID,
			"error", err,
		)
		http.Error(w, `{"error":"Failed to store result"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// GetPayments lists the most recent stored notification records.
func (h *PaymentHandler) GetPayments(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	notifications, err := h.store.ListNotifications(r.Context(), 100)
	if err != nil {
		h.logger.Error("failed to list notifications", "error", err)
		http.Error(w, `{"error":"Failed to fetch payments"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

func writeDomainError(w http.ResponseWriter, err error) {
	var (
		validationErr  *mpesa.ValidationError
		authErr        *mpesa.AuthError
		paymentErr     *mpesa.PaymentError
		transactionErr *mpesa.TransactionError
	)
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationErr.Error()})
	case errors.As(err, &authErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": authErr.Error()})
	case errors.As(err, &paymentErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": paymentErr.Error()})
	case errors.As(err, &transactionErr):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": transactionErr.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
