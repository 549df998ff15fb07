// Package httpapi exposes the auditor over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/draw_auditor/internal/auditor"
	"github.com/R3E-Network/draw_auditor/internal/merkle"
	"github.com/R3E-Network/draw_auditor/internal/metrics"
	"github.com/R3E-Network/draw_auditor/internal/middleware"
	"github.com/R3E-Network/draw_auditor/internal/storage"
	"github.com/R3E-Network/draw_auditor/internal/winner"
	"github.com/R3E-Network/draw_auditor/pkg/logger"
)

// Auditor is the service surface the handlers call.
type Auditor interface {
	AuditDraw(ctx context.Context, id uint64) (auditor.Result, error)
	AuditInputs(ctx context.Context, in winner.AuditInput) (auditor.Result, error)
	Project(ctx context.Context, req auditor.ProjectRequest) (auditor.ProjectionView, error)
	VerifyInclusion(root merkle.Hash, proof merkle.ProofPath, leaf merkle.Leaf) bool
	Audit(ctx context.Context, id string) (storage.AuditRecord, error)
	Audits(ctx context.Context, drawID uint64, limit int) ([]storage.AuditRecord, error)
	AuditWinsOf(ctx context.Context, address string) (auditor.WinsAudit, error)
	Pools(ctx context.Context) (auditor.PoolsView, error)
}

// Options configures the router. RateLimiter and CORS are optional.
type Options struct {
	Auditor     Auditor
	Logger      *logger.Logger
	RateLimiter *middleware.RateLimiter
	CORS        *middleware.CORS
	// AuditTimeout bounds on-demand audits. Zero means 30s.
	AuditTimeout time.Duration
}

type handler struct {
	auditor      Auditor
	log          *logger.Logger
	auditTimeout time.Duration
}

// NewRouter builds the API.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logger.NewDefault("httpapi")
	}
	if opts.AuditTimeout <= 0 {
		opts.AuditTimeout = 30 * time.Second
	}
	h := &handler{auditor: opts.Auditor, log: opts.Logger, auditTimeout: opts.AuditTimeout}

	r := mux.NewRouter()

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Handler)
	}
	api.HandleFunc("/draws/{id:[0-9]+}/audit", h.auditDraw).Methods(http.MethodGet)
	api.HandleFunc("/draws/{id:[0-9]+}/audits", h.listAudits).Methods(http.MethodGet)
	api.HandleFunc("/audits/{id}", h.getAudit).Methods(http.MethodGet)
	api.HandleFunc("/audit", h.auditInputs).Methods(http.MethodPost)
	api.HandleFunc("/verify-inclusion", h.verifyInclusion).Methods(http.MethodPost)
	api.HandleFunc("/odds", h.odds).Methods(http.MethodPost)
	api.HandleFunc("/pools", h.pools).Methods(http.MethodGet)
	api.HandleFunc("/holders/{address:[a-z0-9]+}/wins/audit", h.auditWins).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	var out http.Handler = r
	if opts.CORS != nil {
		out = opts.CORS.Handler(out)
	}
	return middleware.Logging(opts.Logger)(metrics.InstrumentHandler(out))
}
