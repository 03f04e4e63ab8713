// server.go - HTTP host for the ledger engine.
//
// The host is the sequencer: operations are applied one at a time under a mutex and
// each committed operation advances the host height by one.
//
// Caller identity is read from the X-Caller header. This is a development stand-in for
// an authenticated identity and must sit behind an authenticating proxy in production.

package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cctoken/internal/ledger"
	"cctoken/internal/metrics"
)

// CallerHeader carries the caller identity.
const CallerHeader = "X-Caller"

// Config tunes the HTTP host.
type Config struct {
	Version     string
	RateLimit   int // burst per caller; 0 disables limiting
	RateRefill  int // tokens added per RatePeriod
	RatePeriod  time.Duration
	StartHeight uint64 // height of the first committed operation
}

// Server serves the ledger over HTTP.
type Server struct {
	mu      sync.Mutex
	engine  *ledger.Engine
	height  uint64
	log     *zap.Logger
	limiter *CallerRateLimiter
	health  *HealthChecker
	metrics *metrics.Collector
	router  *gin.Engine
}

// NewServer builds the router. collector may be nil.
func NewServer(eng *ledger.Engine, collector *metrics.Collector, logger *zap.Logger, cfg Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	height := cfg.StartHeight
	if height == 0 {
		height = 1
	}
	s := &Server{
		engine:  eng,
		height:  height,
		log:     logger,
		limiter: NewCallerRateLimiter(cfg.RateLimit, cfg.RateRefill, cfg.RatePeriod),
		health:  NewHealthChecker(cfg.Version),
		metrics: collector,
	}
	s.health.Register("store", func() error {
		_, err := eng.Metadata()
		return err
	})
	s.health.Register("invariant", nil)
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Health returns the host health checker.
func (s *Server) Health() *HealthChecker {
	return s.health
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	if s.metrics != nil {
		r.Use(s.metrics.Middleware())
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	r.GET("/healthz", s.handleHealth)

	v1 := r.Group("/v1")
	ops := v1.Group("/ops", s.limiter.Middleware())
	ops.POST("/mint", s.submit(func() opRequest { return &MintRequest{} }))
	ops.POST("/transfer", s.submit(func() opRequest { return &TransferRequest{} }))
	ops.POST("/transfer-from", s.submit(func() opRequest { return &TransferFromRequest{} }))
	ops.POST("/approve", s.submit(func() opRequest { return &ApproveRequest{} }))
	ops.POST("/burn", s.submit(func() opRequest { return &BurnRequest{} }))
	ops.POST("/force-burn", s.submit(func() opRequest { return &ForceBurnRequest{} }))
	ops.POST("/set-metadata", s.submit(func() opRequest { return &SetMetadataRequest{} }))

	v1.GET("/accounts/:addr", s.handleAccount)
	v1.GET("/allowances/:owner/:spender", s.handleAllowance)
	v1.GET("/nonces/:addr", s.handleNonce)
	v1.GET("/metadata", s.handleMetadata)
	v1.GET("/params", s.handleParams)
	v1.GET("/invariant", s.handleInvariant)
	return r
}

func (s *Server) submit(newReq func() opRequest) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := newReq()
		if err := c.ShouldBindJSON(req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed_parameters", Reason: err.Error()})
			return
		}
		op, err := req.toOperation()
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed_parameters", Reason: err.Error()})
			return
		}

		caller := ledger.Address(c.GetHeader(CallerHeader))
		s.mu.Lock()
		rec, err := s.engine.Apply(ledger.Env{Caller: caller, Height: s.height}, op)
		if err == nil {
			s.height++
		}
		s.mu.Unlock()

		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func (s *Server) handleAccount(c *gin.Context) {
	view, err := s.engine.Account(ledger.Address(c.Param("addr")))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, AccountResponse{
		Address:     view.Address,
		Exists:      view.Exists,
		Commitment:  HexOf(view.Commitment),
		Nonce:       view.Nonce,
		LastUpdated: view.LastUpdated,
		Updates:     view.Updates,
	})
}

func (s *Server) handleAllowance(c *gin.Context) {
	view, err := s.engine.Allowance(ledger.Address(c.Param("owner")), ledger.Address(c.Param("spender")))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, AllowanceResponse{
		Owner:      view.Owner,
		Spender:    view.Spender,
		Exists:     view.Exists,
		Commitment: HexOf(view.Commitment),
		ApprovedAt: view.ApprovedAt,
	})
}

func (s *Server) handleNonce(c *gin.Context) {
	addr := ledger.Address(c.Param("addr"))
	n, err := s.engine.Nonce(addr)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr, "nonce": n})
}

func (s *Server) handleMetadata(c *gin.Context) {
	meta, err := s.engine.Metadata()
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, MetadataResponse{
		Name:             meta.Name,
		Symbol:           meta.Symbol,
		Operator:         meta.Operator,
		TotalSupply:      meta.TotalSupply,
		SupplyCommitment: HexOf(meta.SupplyCommitment),
	})
}

func (s *Server) handleParams(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Params())
}

func (s *Server) handleInvariant(c *gin.Context) {
	report, err := s.Audit()
	if report == nil {
		s.writeError(c, err)
		return
	}
	resp := InvariantResponse{
		OK:       report.OK,
		Product:  HexOf(report.Product),
		Expected: HexOf(report.Expected),
		Accounts: report.Accounts,
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Audit runs the supply invariant check between operations and records the result in
// the health checker.
func (s *Server) Audit() (*ledger.InvariantReport, error) {
	s.mu.Lock()
	report, err := s.engine.VerifySupplyInvariant()
	s.mu.Unlock()

	switch {
	case errors.Is(err, ledger.ErrInvariantViolation):
		s.health.Update("invariant", Unhealthy, "supply invariant violated")
	case err != nil:
		s.health.Update("invariant", Degraded, err.Error())
	default:
		s.health.Update("invariant", Healthy, "ok")
	}
	return report, err
}

func (s *Server) handleHealth(c *gin.Context) {
	h := s.health.Check()
	code := http.StatusOK
	if h.Status == Unhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, h)
}

// statusFor maps a rejection kind to an HTTP status.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrReplay):
		return http.StatusConflict, "replay"
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, ledger.ErrConservation):
		return http.StatusUnprocessableEntity, "conservation_violation"
	case errors.Is(err, ledger.ErrInvalidAllowance):
		return http.StatusUnprocessableEntity, "invalid_allowance"
	case errors.Is(err, ledger.ErrMalformedParameters):
		return http.StatusBadRequest, "malformed_parameters"
	case errors.Is(err, ledger.ErrInvariantViolation):
		return http.StatusInternalServerError, "invariant_violation"
	case errors.Is(err, ledger.ErrNotDeployed):
		return http.StatusServiceUnavailable, "not_deployed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	code, label := statusFor(err)
	resp := errorResponse{Error: label}
	var lerr *ledger.Error
	if errors.As(err, &lerr) {
		resp.Gate = string(lerr.Gate)
		resp.Reason = lerr.Reason
	} else if code == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, resp)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("caller", c.GetHeader(CallerHeader)),
			zap.Duration("latency", time.Since(start)))
	}
}
