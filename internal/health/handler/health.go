package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Svyat0y/form-builder-backend/internal/server/httpx"
)

// checkTimeout bounds one readiness check.
const checkTimeout = 3 * time.Second

// Pinger is used to check database connectivity (e.g. *sqlx.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is used to check that the policy engine evaluates (e.g. *engine.OPAEvaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Report is the readiness result: "ok" or "unavailable" overall and per check.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool { return r.Status == statusOK }

const (
	statusOK          = "ok"
	statusUnavailable = "unavailable"
)

type namedCheck struct {
	name string
	fn   func(context.Context) error
}

// Checker runs the readiness checks shared by /healthz and the gRPC health service.
type Checker struct {
	checks []namedCheck
	log    *zap.Logger
}

// NewChecker returns a Checker for the database and the policy engine. Either may be nil; nil checks are skipped.
func NewChecker(pinger Pinger, policy PolicyChecker, log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Checker{log: log}
	if pinger != nil {
		c.checks = append(c.checks, namedCheck{"database", pinger.PingContext})
	}
	if policy != nil {
		c.checks = append(c.checks, namedCheck{"policy", policy.HealthCheck})
	}
	return c
}

// With adds a named check, e.g. a Redis ping.
func (c *Checker) With(name string, fn func(context.Context) error) *Checker {
	c.checks = append(c.checks, namedCheck{name, fn})
	return c
}

// Check runs every check. A nil Checker is healthy.
func (c *Checker) Check(ctx context.Context) Report {
	if c == nil {
		return Report{Status: statusOK, Checks: map[string]string{}}
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	rep := Report{Status: statusOK, Checks: make(map[string]string, len(c.checks))}
	for _, ch := range c.checks {
		if err := ch.fn(ctx); err != nil {
			c.log.Warn("health: check failed", zap.String("check", ch.name), zap.Error(err))
			rep.Checks[ch.name] = statusUnavailable
			rep.Status = statusUnavailable
			continue
		}
		rep.Checks[ch.name] = statusOK
	}
	return rep
}

// ServeHTTP handles GET /healthz with 200 or 503.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := c.Check(r.Context())
	status := http.StatusOK
	if !rep.Healthy() {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, rep)
}
