// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aiku/mattermost-hookrelay/pkg/metrics"
	"github.com/aiku/mattermost-hookrelay/pkg/relay"
)

// DefaultMaxBodyBytes caps webhook bodies when RouterOptions leaves it unset.
const DefaultMaxBodyBytes = 1 << 20

// RouterOptions configure the HTTP surface.
type RouterOptions struct {
	// RateLimit is the sustained requests per second allowed per app id.
	// Zero disables limiting.
	RateLimit    float64
	Burst        int
	MaxBodyBytes int64
}

type handler struct {
	gw      *Gateway
	limits  *limiterPool
	maxBody int64
}

// NewRouter mounts the webhook endpoints plus /healthz and /metrics.
func NewRouter(gw *Gateway, opts RouterOptions) http.Handler {
	h := &handler{
		gw:      gw,
		limits:  newLimiterPool(opts.RateLimit, opts.Burst, maxLimiters),
		maxBody: opts.MaxBodyBytes,
	}
	if h.maxBody <= 0 {
		h.maxBody = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/{app_id}/webhook", h.handleWebhook)
	r.Post("/{app_id}/discord", h.handleWebhook)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// NewServer wraps handler in an *http.Server with conservative timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (h *handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	appID, err := strconv.ParseUint(chi.URLParam(r, "app_id"), 10, 32)
	if err != nil {
		h.respond(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	if !h.limits.Allow(uint32(appID)) {
		h.respond(w, http.StatusTooManyRequests, "rate_limited", "Too Many Requests")
		return
	}

	var body WebhookBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&body); err != nil {
		h.respond(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}
	if len(body.EmbedList) == 0 {
		h.respond(w, http.StatusBadRequest, "bad_request", "At least one embed is required")
		return
	}

	err = h.gw.Accept(r.Context(), uint32(appID), r.URL.Query().Get("token"), &body)
	switch {
	case err == nil:
		h.respond(w, http.StatusAccepted, "accepted", "Accepted")
	case errors.Is(err, ErrUnauthorized):
		h.respond(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
	case errors.Is(err, ErrNoEmbed):
		h.respond(w, http.StatusBadRequest, "bad_request", "At least one embed is required")
	case errors.Is(err, relay.ErrChannelClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		h.gw.log.Warn().Err(err).Uint64("app_id", appID).Msg("Failed to enqueue package")
		h.respond(w, http.StatusServiceUnavailable, "unavailable", "Service Unavailable")
	default:
		h.gw.log.Error().Err(err).Uint64("app_id", appID).Msg("Unexpected ingestion failure")
		h.respond(w, http.StatusInternalServerError, "error", "Internal Server Error")
	}
}

func (h *handler) respond(w http.ResponseWriter, status int, result, text string) {
	metrics.IngestRequests.WithLabelValues(result).Inc()
	writeText(w, status, text)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}
