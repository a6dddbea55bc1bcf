package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/seven7-ai/mpesa-gobackend/internal/models"
	"github.com/seven7-ai/mpesa-gobackend/internal/mpesa"
	"github.com/seven7-ai/mpesa-gobackend/internal/store"
)

var callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mpesa_callbacks_total",
	Help: "Inbound M-Pesa callbacks by channel and outcome",
}, []string{"channel", "outcome"})

// CallbackHandler is the inbound webhook surface. The switch retries on
// any non-success envelope, so every parse or store failure is absorbed
// into an HTTP 200 ack whose ResultCode reports the problem; only the
// shared-secret check may reject outright.
type CallbackHandler struct {
	sink   store.RecordSink
	token  string // shared secret for ?token=; empty disables the check
	logger *slog.Logger
}

func NewCallbackHandler(sink store.RecordSink, token string, logger *slog.Logger) *CallbackHandler {
	return &CallbackHandler{
		sink:   sink,
		token:  token,
		logger: logger.With(slog.String("component", "callbacks")),
	}
}

// STKCallback handles the push-result notification.
func (h *CallbackHandler) STKCallback(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, models.CallbackSTKPush)
}

// StatusResult handles the transaction status result notification.
func (h *CallbackHandler) StatusResult(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, models.CallbackStatusResult)
}

// StatusTimeout handles the transaction status timeout notification.
func (h *CallbackHandler) StatusTimeout(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, models.CallbackStatusTimeout)
}

func (h *CallbackHandler) handle(w http.ResponseWriter, r *http.Request, callbackType models.CallbackType) {
	channel := string(callbackType)

	// Token validation precedes any JSON parsing.
	if h.token != "" && r.URL.Query().Get("token") != h.token {
		h.logger.Warn("callback with invalid token", "channel", channel, "remote", r.RemoteAddr)
		callbacksTotal.WithLabelValues(channel, "unauthorized").Inc()
		writeAck(w, http.StatusForbidden, 1, "Invalid token")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read callback body", "channel", channel, "error", err)
		callbacksTotal.WithLabelValues(channel, "read_error").Inc()
		writeAck(w, http.StatusOK, 1, "Invalid data format")
		return
	}

	record, err := mpesa.ParseCallback(body)
	if err != nil {
		h.logger.Error("failed to parse callback", "channel", channel, "error", err)
		callbacksTotal.WithLabelValues(channel, "parse_error").Inc()
		writeAck(w, http.StatusOK, 1, err.Error())
		return
	}

	if err := h.sink.SaveNotification(r.Context(), *record, callbackType); err != nil {
		h.logger.Error("failed to store notification",
			"channel", channel,
			"checkout_request_id", record.CheckoutRequestID,
			"error", err,
		)
		callbacksTotal.WithLabelValues(channel, "store_error").Inc()
		writeAck(w, http.StatusOK, 1, "Internal server error")
		return
	}

	h.logger.Info("callback processed",
		"channel", channel,
		"checkout_request_id", record.CheckoutRequestID,
		"result_code", record.ResultCode,
		"succeeded", record.Succeeded,
	)
	callbacksTotal.WithLabelValues(channel, "ok").Inc()
	writeAck(w, http.StatusOK, 0, "Success")
}

func writeAck(w http.ResponseWriter, status, code int, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ResultCode": code,
		"ResultDesc": desc,
	})
}
