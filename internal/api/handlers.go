package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/LeventeLantos/reviewgate/internal/scheduler"
	"github.com/LeventeLantos/reviewgate/internal/service"
)

const maxBodyBytes = 64 << 10

type Deps struct {
	Lifecycle     *service.Lifecycle
	Dispatcher    *service.Dispatcher
	Reconciler    *service.Reconciler
	Gate          *service.Gate
	Ticker        *scheduler.Ticker
	Metrics       http.Handler
	CronSecret    string
	SessionSecret string
	PublicBaseURL string
	Logger        *slog.Logger
}

type Handler struct {
	lifecycle     *service.Lifecycle
	dispatcher    *service.Dispatcher
	reconciler    *service.Reconciler
	gate          *service.Gate
	ticker        *scheduler.Ticker
	metrics       http.Handler
	cronSecret    string
	sessionSecret string
	publicBaseURL string
	logger        *slog.Logger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		lifecycle:     d.Lifecycle,
		dispatcher:    d.Dispatcher,
		reconciler:    d.Reconciler,
		gate:          d.Gate,
		ticker:        d.Ticker,
		metrics:       d.Metrics,
		cronSecret:    d.CronSecret,
		sessionSecret: d.SessionSecret,
		publicBaseURL: strings.TrimRight(d.PublicBaseURL, "/"),
		logger:        logger,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) TickerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ticker.Status())
}

func (h *Handler) TickerStart(w http.ResponseWriter, r *http.Request) {
	h.ticker.Start()
	writeJSON(w, http.StatusOK, h.ticker.Status())
}

func (h *Handler) TickerStop(w http.ResponseWriter, r *http.Request) {
	h.ticker.Stop()
	writeJSON(w, http.StatusOK, h.ticker.Status())
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// pageParams reads limit and offset, clamping limit to 1..100 and offset to >= 0.
func pageParams(r *http.Request) (limit, offset int) {
	limit = parseInt(r.URL.Query().Get("limit"), defaultPageLimit)
	offset = parseInt(r.URL.Query().Get("offset"), 0)
	if limit < 1 {
		limit = 1
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody decodes a bounded JSON body into dst, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", service.ErrValidation, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: body must contain a single JSON object", service.ErrValidation)
	}
	return nil
}
