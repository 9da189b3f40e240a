// Package api provides the HTTP handlers for running calculations,
// validating requests and normalizing exchange exports.
//
// All monetary values use shopspring/decimal and are emitted as JSON strings.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eupholio/costbasis/internal/cache"
	"github.com/eupholio/costbasis/internal/config"
	"github.com/eupholio/costbasis/internal/engine"
	"github.com/eupholio/costbasis/internal/metrics"
	"github.com/eupholio/costbasis/internal/model"
	"github.com/eupholio/costbasis/internal/normalize"
	"github.com/eupholio/costbasis/internal/validation"
)

// Limits bound the size of accepted requests.
type Limits struct {
	MaxEvents    int
	MaxBodyBytes int64
}

// Service handles calculation requests. Calculations are independent and
// run concurrently; the only shared state is the report cache.
type Service struct {
	cache  cache.Cache
	limits Limits
	wsHub  *WSHub // optional WebSocket hub for completion broadcasts
}

// NewService creates a new calculation service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(c cache.Cache, hub *WSHub, limits Limits) *Service {
	return &Service{
		cache:  c,
		limits: limits,
		wsHub:  hub,
	}
}

// --- Request/Response types ---

// CalculateResponse is the JSON body returned from POST /calculate.
type CalculateResponse struct {
	CalculationID string        `json:"calculation_id"`
	Cached        bool          `json:"cached"`
	Report        *model.Report `json:"report"`
}

// NormalizeResponse is the JSON body returned from POST /normalize/{format}.
type NormalizeResponse struct {
	Format string `json:"format"`
	*normalize.Result
}

// --- HTTP Handlers ---

// Calculate handles POST /api/v1/calculate
func (s *Service) Calculate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	if s.limits.MaxEvents > 0 && len(req.Events) > s.limits.MaxEvents {
		writeError(w, fmt.Sprintf("%d events exceed the limit of %d", len(req.Events), s.limits.MaxEvents),
			http.StatusUnprocessableEntity)
		return
	}

	ctx := r.Context()
	key, err := cache.Key(req)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	report, cached := s.lookup(r, key)
	if !cached {
		start := time.Now()
		report, err = req.Run()
		metrics.CalculationDuration.WithLabelValues(string(req.Method)).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CalculationsTotal.WithLabelValues(string(req.Method), string(req.Rounding.Timing), "error").Inc()
			slog.Info("calculation rejected", "method", req.Method, "tax_year", req.TaxYear, "err", err)
			writeError(w, err.Error(), calculationErrorStatus(err))
			return
		}
		metrics.CalculationsTotal.WithLabelValues(string(req.Method), string(req.Rounding.Timing), "ok").Inc()
		metrics.ObserveReport(report)

		if err := s.cache.Set(ctx, key, report); err != nil {
			slog.Warn("cache store failed", "err", err)
		}
	}

	resp := CalculateResponse{
		CalculationID: uuid.New().String(),
		Cached:        cached,
		Report:        report,
	}

	slog.Info("calculation completed",
		"id", resp.CalculationID,
		"method", req.Method,
		"tax_year", req.TaxYear,
		"events", len(req.Events),
		"diagnostics", len(report.Diagnostics),
		"cached", cached,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:           "calculation_completed",
			CalculationID:  resp.CalculationID,
			Method:         string(req.Method),
			TaxYear:        req.TaxYear,
			RealizedPnLJPY: report.RealizedPnLJPY.String(),
			IncomeJPY:      report.IncomeJPY.String(),
			Diagnostics:    len(report.Diagnostics),
			Cached:         cached,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// lookup returns the cached report for key. Cache failures are treated as
// misses.
func (s *Service) lookup(r *http.Request, key string) (*model.Report, bool) {
	report, err := s.cache.Get(r.Context(), key)
	switch {
	case err == nil:
		metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
		slog.Debug("cache hit", "key", key)
		return report, true
	case errors.Is(err, cache.ErrMiss):
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
	default:
		metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
		slog.Warn("cache lookup failed", "err", err)
	}
	return nil, false
}

// Validate handles POST /api/v1/validate. The result is returned with 200
// whether or not the request is valid.
func (s *Service) Validate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	res := validation.Validate(req, s.limits.MaxEvents)
	if !res.OK {
		slog.Info("validation failed", "errors", len(res.Errors), "warnings", len(res.Warnings))
	}
	writeJSON(w, http.StatusOK, res)
}

// Normalize handles POST /api/v1/normalize/{format}?product=BTC_JPY
func (s *Service) Normalize(w http.ResponseWriter, r *http.Request) {
	format := normalize.Format(chi.URLParam(r, "format"))
	opts := normalize.Options{Product: r.URL.Query().Get("product")}

	res, err := normalize.Normalize(format, s.body(w, r), opts)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
		case errors.Is(err, normalize.ErrUnknownFormat):
			writeError(w, err.Error(), http.StatusNotFound)
		default:
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
		}
		return
	}

	metrics.NormalizedRowsTotal.WithLabelValues(string(format), "event").Add(float64(len(res.Events)))
	metrics.NormalizedRowsTotal.WithLabelValues(string(format), "diagnostic").Add(float64(len(res.Diagnostics)))
	slog.Info("export normalized",
		"format", format,
		"events", len(res.Events),
		"diagnostics", len(res.Diagnostics),
	)

	writeJSON(w, http.StatusOK, NormalizeResponse{Format: string(format), Result: res})
}

func (s *Service) body(w http.ResponseWriter, r *http.Request) io.Reader {
	if s.limits.MaxBodyBytes > 0 {
		return http.MaxBytesReader(w, r.Body, s.limits.MaxBodyBytes)
	}
	return r.Body
}

func (s *Service) decodeRequest(w http.ResponseWriter, r *http.Request) (engine.Request, bool) {
	var req engine.Request
	if err := json.NewDecoder(s.body(w, r)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
		} else {
			writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		}
		return engine.Request{}, false
	}
	return req, true
}

// calculationErrorStatus maps configuration errors to 400 and data errors
// to 422.
func calculationErrorStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrMalformedEvent), errors.Is(err, engine.ErrInvalidCarryIn):
		return http.StatusUnprocessableEntity
	case errors.Is(err, config.ErrUnknownMethod),
		errors.Is(err, config.ErrUnsupportedTiming),
		errors.Is(err, config.ErrUnknownMode),
		errors.Is(err, config.ErrUnknownTiming),
		errors.Is(err, config.ErrScaleTooLarge):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
