package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/risk"
	"SignalGate/internal/services/timeframe"
	"SignalGate/internal/usecase"
	xhttp "SignalGate/pkg/http"
	xlogger "SignalGate/pkg/logger"
)

type BrainOps interface {
	State() usecase.BrainState
	Strategy(name string, tf models.Timeframe, symbol string) (usecase.StrategyState, bool)
	ActivateStrategy(name string, tf models.Timeframe, symbol string) bool
	DeactivateStrategy(name string, tf models.Timeframe, symbol string) bool
}

type RiskOps interface {
	RiskSummary() risk.Summary
	ResetCircuitBreaker(scope risk.Scope, id string) error
}

type TimeframeOps interface {
	Strategies() []string
	ActiveSignals(symbol string) map[models.Timeframe]models.TimeframeSignal
	SignalHistory(symbol, strategy string, limit int) []models.MultiTimeframeSignal
	TimeframeSummary(symbol, strategy string) (timeframe.Summary, error)
}

// ReadinessCheck reports whether one dependency can serve traffic.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// OpsHandler serves health, introspection and operator controls.
type OpsHandler struct {
	logger *xlogger.Logger
	brain  BrainOps
	risk   RiskOps
	tf     TimeframeOps
	checks []ReadinessCheck
}

func NewOpsHandler(logger *xlogger.Logger, brain BrainOps, riskOps RiskOps, tf TimeframeOps, checks ...ReadinessCheck) (*OpsHandler, error) {
	if logger == nil {
		logger = xlogger.Nop()
	}
	if err := xhttp.ConfigureValidator(models.RegisterTimeframeValidation); err != nil {
		return nil, err
	}
	return &OpsHandler{logger: logger, brain: brain, risk: riskOps, tf: tf, checks: checks}, nil
}

func (h *OpsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/ready", h.Ready)

	g := e.Group("/api/v1")
	g.GET("/brain", h.BrainState)
	g.GET("/strategies/:name/:timeframe/:symbol", h.GetStrategy)
	g.POST("/strategies/:name/:timeframe/:symbol/activate", h.Activate)
	g.POST("/strategies/:name/:timeframe/:symbol/deactivate", h.Deactivate)

	g.GET("/risk", h.RiskSummary)
	g.POST("/risk/breakers/reset", h.ResetBreaker)

	g.GET("/timeframes", h.TimeframeStrategies)
	g.GET("/symbols/:symbol/signals", h.ActiveSignals)
	g.GET("/timeframes/:symbol/:strategy", h.TimeframeSummary)
	g.GET("/timeframes/:symbol/:strategy/history", h.History)
}

func (h *OpsHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

type checkResult struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (h *OpsHandler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	results := make([]checkResult, 0, len(h.checks))
	ready := true
	for _, chk := range h.checks {
		r := checkResult{Name: chk.Name, OK: true}
		if err := chk.Check(ctx); err != nil {
			r.OK, r.Error = false, err.Error()
			ready = false
		}
		results = append(results, r)
	}
	if !ready {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, results)
	}
	return xhttp.SuccessResponse(c, results)
}

func (h *OpsHandler) BrainState(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.brain.State())
}

type strategyRequest struct {
	Name      string `param:"name" validate:"required"`
	Timeframe string `param:"timeframe" validate:"required,timeframe"`
	Symbol    string `param:"symbol" validate:"required"`
}

func (h *OpsHandler) GetStrategy(c echo.Context) error {
	req := &strategyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, ok := h.brain.Strategy(req.Name, models.Timeframe(req.Timeframe), req.Symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("strategy %s:%s:%s is not registered", req.Name, req.Timeframe, req.Symbol))
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *OpsHandler) Activate(c echo.Context) error { return h.setActive(c, true) }

func (h *OpsHandler) Deactivate(c echo.Context) error { return h.setActive(c, false) }

func (h *OpsHandler) setActive(c echo.Context, active bool) error {
	req := &strategyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf := models.Timeframe(req.Timeframe)
	toggle := h.brain.DeactivateStrategy
	if active {
		toggle = h.brain.ActivateStrategy
	}
	if !toggle(req.Name, tf, req.Symbol) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("strategy %s:%s:%s is not registered", req.Name, req.Timeframe, req.Symbol))
	}
	h.logger.Info("strategy toggled by operator",
		xlogger.String("strategy", req.Name),
		xlogger.String("timeframe", req.Timeframe),
		xlogger.String("symbol", req.Symbol),
		xlogger.Bool("active", active))
	st, _ := h.brain.Strategy(req.Name, tf, req.Symbol)
	return xhttp.SuccessResponse(c, st)
}

func (h *OpsHandler) RiskSummary(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.risk.RiskSummary())
}

type resetBreakerRequest struct {
	Scope string `json:"scope" validate:"required,oneof=portfolio strategy limits"`
	ID    string `json:"id" default:"all"`
}

func (h *OpsHandler) ResetBreaker(c echo.Context) error {
	req := &resetBreakerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.risk.ResetCircuitBreaker(risk.Scope(req.Scope), req.ID); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("reset %s breaker %q", req.Scope, req.ID).WithError(err))
	}
	h.logger.Warn("circuit breaker reset by operator",
		xlogger.String("scope", req.Scope),
		xlogger.String("id", req.ID))
	return xhttp.SuccessResponse(c, req)
}

func (h *OpsHandler) TimeframeStrategies(c echo.Context) error {
	keys := h.tf.Strategies()
	return xhttp.ListResponse(c, keys, len(keys))
}

type symbolRequest struct {
	Symbol string `param:"symbol" validate:"required"`
}

func (h *OpsHandler) ActiveSignals(c echo.Context) error {
	req := &symbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, h.tf.ActiveSignals(req.Symbol))
}

type timeframeRequest struct {
	Symbol   string `param:"symbol" validate:"required"`
	Strategy string `param:"strategy" validate:"required"`
}

func (h *OpsHandler) TimeframeSummary(c echo.Context) error {
	req := &timeframeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sum, err := h.tf.TimeframeSummary(req.Symbol, req.Strategy)
	if err != nil {
		if errors.Is(err, models.ErrConfigurationNotFound) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("%v", err))
		}
		h.logger.Error("timeframe summary failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, sum)
}

type historyRequest struct {
	Symbol   string `param:"symbol" validate:"required"`
	Strategy string `param:"strategy" validate:"required"`
	Limit    int    `query:"limit" default:"50" validate:"gte=1,lte=1000"`
}

func (h *OpsHandler) History(c echo.Context) error {
	req := &historyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows := h.tf.SignalHistory(req.Symbol, req.Strategy, req.Limit)
	return xhttp.ListResponse(c, rows, len(rows))
}
