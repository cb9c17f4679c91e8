// Package httpapi exposes the quiz backend over the single-endpoint HTTP
// contract: the action is chosen by the `action` parameter, the API key is
// the `key` parameter, and every answer is a {ok, data | error} envelope.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/and161185/quizdeck/internal/convert"
	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/model"
	"github.com/and161185/quizdeck/internal/service"
)

// ActionPing answers without a key so clients can probe reachability.
const ActionPing = "ping"

// Paths served by the action endpoint.
var EndpointPaths = []string{"/", "/exec"}

const actionKey = "qd.action"

// Server wires services into gin handlers.
type Server struct {
	svc     service.BackendService
	keys    service.KeyChecker
	log     *zap.Logger
	metrics *Metrics
	health  func(context.Context) error
	origins []string
}

// Option configures a Server.
type Option func(*Server)

// WithHealth sets the dependency check behind /healthz.
func WithHealth(fn func(context.Context) error) Option { return func(s *Server) { s.health = fn } }

// WithCORSOrigins restricts browser origins; empty allows any origin.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = append([]string(nil), origins...) }
}

// WithMetrics replaces the default collectors.
func WithMetrics(m *Metrics) Option { return func(s *Server) { s.metrics = m } }

// New constructs a server with injected services.
func New(svc service.BackendService, keys service.KeyChecker, log *zap.Logger, opts ...Option) *Server {
	s := &Server{svc: svc, keys: keys, log: log}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.health == nil {
		s.health = func(context.Context) error { return nil }
	}
	return s
}

// Handler returns the routed engine wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(Recover(s.log), Logging(s.log), s.metrics.middleware())

	for _, p := range EndpointPaths {
		r.GET(p, s.dispatch)
		r.POST(p, s.dispatch)
	}
	r.GET("/healthz", s.healthz)
	r.GET("/metrics", s.metrics.handler())

	return cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept", "Origin"},
		MaxAge:         86400,
	}).Handler(r)
}

func (s *Server) healthz(c *gin.Context) {
	if err := s.health(c.Request.Context()); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, convert.Envelope{Error: "unavailable"})
		return
	}
	ok(c, gin.H{"status": "up"})
}

// param reads a form field, falling back to the query string.
func param(c *gin.Context, name string) string {
	if v, found := c.GetPostForm(name); found {
		return v
	}
	return c.Query(name)
}

func (s *Server) dispatch(c *gin.Context) {
	if c.Request.Method == http.MethodPost {
		if err := c.Request.ParseForm(); err != nil {
			abort(c, http.StatusBadRequest, "bad form: "+err.Error())
			return
		}
	}
	action := param(c, "action")
	c.Set(actionKey, action)

	if action == ActionPing {
		ok(c, "pong")
		return
	}
	if err := s.keys.Check(c.Request.Context(), param(c, "key"), c.ClientIP()); err != nil {
		s.fail(c, err)
		return
	}

	switch action {
	case convert.ActionList:
		s.list(c)
	case convert.ActionResults:
		s.results(c)
	case string(model.ActionSubmitResult), string(model.ActionBulkUpsert),
		string(model.ActionArchiveMove), string(model.ActionDeleteForever):
		if c.Request.Method != http.MethodPost {
			abort(c, http.StatusMethodNotAllowed, action+" requires POST")
			return
		}
		s.write(c, model.Action(action))
	case "":
		abort(c, http.StatusBadRequest, "missing action")
	default:
		abort(c, http.StatusBadRequest, "unknown action "+strconv.Quote(action))
	}
}

func (s *Server) list(c *gin.Context) {
	rows, err := s.svc.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, rows)
}

func (s *Server) results(c *gin.Context) {
	limit, _ := strconv.Atoi(param(c, "limit"))
	out, err := s.svc.Results(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, out)
}

func (s *Server) write(c *gin.Context, action model.Action) {
	ctx := c.Request.Context()
	form := c.Request.PostForm

	switch action {
	case model.ActionSubmitResult:
		var r model.Result
		if err := convert.FromForm(form, &r); err != nil {
			abort(c, http.StatusBadRequest, err.Error())
			return
		}
		ack, err := s.svc.Submit(ctx, r)
		if err != nil {
			s.fail(c, err)
			return
		}
		s.metrics.submitted(ack.Duplicate)
		ok(c, ack)

	case model.ActionBulkUpsert:
		var p convert.BulkPayload
		if err := convert.FromForm(form, &p); err != nil {
			abort(c, http.StatusBadRequest, err.Error())
			return
		}
		ack, err := s.svc.Bulk(ctx, p)
		if err != nil {
			s.fail(c, err)
			return
		}
		ok(c, ack)

	case model.ActionArchiveMove:
		var m convert.ArchiveMove
		if err := convert.FromForm(form, &m); err != nil {
			abort(c, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.svc.ArchiveMove(ctx, m); err != nil {
			s.fail(c, err)
			return
		}
		ok(c, m)

	case model.ActionDeleteForever:
		var d convert.DeleteForever
		if err := convert.FromForm(form, &d); err != nil {
			abort(c, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.svc.DeleteForever(ctx, d); err != nil {
			s.fail(c, err)
			return
		}
		ok(c, gin.H{"id": d.ID})
	}
}

func ok(c *gin.Context, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		abort(c, http.StatusInternalServerError, "encode response")
		return
	}
	c.JSON(http.StatusOK, convert.Envelope{OK: true, Data: raw})
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, convert.Envelope{Error: msg})
}

// fail maps service errors to HTTP statuses. Internal errors are logged and
// reported without detail.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errs.IsValidation(err):
		abort(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		abort(c, http.StatusUnauthorized, "bad key")
	case errors.Is(err, errs.ErrRateLimited):
		abort(c, http.StatusTooManyRequests, "too many bad keys, try later")
	case errors.Is(err, errs.ErrNotFound):
		abort(c, http.StatusNotFound, "not found")
	default:
		s.log.Error("request failed", zap.String("action", c.GetString(actionKey)), zap.Error(err))
		abort(c, http.StatusInternalServerError, "internal")
	}
}
