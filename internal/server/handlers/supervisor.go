package handlers

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fetchguard/fetchguard/internal/observability"
	"github.com/fetchguard/fetchguard/internal/supervisor"
)

// SupervisorHandler exposes the outbound supervisor's control surface.
type SupervisorHandler struct {
	sup *supervisor.Supervisor
}

// NewSupervisorHandler wraps sup.
func NewSupervisorHandler(sup *supervisor.Supervisor) *SupervisorHandler {
	return &SupervisorHandler{sup: sup}
}

// SummaryResponse is the body of GET /api/fetch/summary.
type SummaryResponse struct {
	Success bool                 `json:"success"`
	Data    supervisor.Summary   `json:"data"`
	Logs    []supervisor.LogItem `json:"logs"`
}

// ConfigRequest is the body of POST /api/fetch/config. Absent fields fall back
// to ratePerSecond=2 and cache=true.
type ConfigRequest struct {
	RatePerSecond *FlexibleRate `json:"ratePerSecond,omitempty"`
	Cache         *bool         `json:"cache,omitempty"`
}

// FlexibleRate accepts a JSON number or a numeric string ("5", 2.5).
// Fractions are truncated; the supervisor clamps the result to at least 1.
type FlexibleRate int

// UnmarshalJSON implements json.Unmarshaler.
func (r *FlexibleRate) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSpace(unquoted)
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("ratePerSecond must be numeric, got %s", data)
	}
	value = math.Max(math.Min(value, math.MaxInt32), math.MinInt32)
	*r = FlexibleRate(int(value))
	return nil
}

// OKResponse acknowledges a control command.
type OKResponse struct {
	Success bool `json:"success"`
}

// Summary returns counters and the retained audit log.
func (h *SupervisorHandler) Summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SummaryResponse{
		Success: true,
		Data:    h.sup.Summary(),
		Logs:    h.sup.Logs(),
	})
}

// Config applies a rate and cache toggle.
func (h *SupervisorHandler) Config(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	rate := supervisor.DefaultRatePerSecond
	if req.RatePerSecond != nil {
		rate = int(*req.RatePerSecond)
	}
	cache := true
	if req.Cache != nil {
		cache = *req.Cache
	}

	h.sup.SetRate(rate)
	h.sup.EnableCache(cache)

	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Supervisor reconfigured",
			zap.Int("rate_per_second", rate),
			zap.Bool("cache", cache))
	}
	writeJSON(w, http.StatusOK, OKResponse{Success: true})
}

// Reset clears the audit log and the response cache. Counters are kept.
func (h *SupervisorHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.sup.ClearLogs()
	h.sup.ClearCache()
	writeJSON(w, http.StatusOK, OKResponse{Success: true})
}
