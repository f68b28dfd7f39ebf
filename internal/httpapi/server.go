package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BrandonDHaskell/Argus/internal/argus/behavior"
	"github.com/BrandonDHaskell/Argus/internal/argus/pipeline"
	"github.com/BrandonDHaskell/Argus/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

// StatusSource is the part of the pipeline the API reads from.
type StatusSource interface {
	Snapshot() pipeline.Status
	Healthy() bool
}

// Control is the set of operator actions the API can trigger. A nil
// Control leaves the action routes unmounted.
type Control interface {
	ResetTamper(ctx context.Context) types.TamperStatus
	ResetAlertCooldown(zone string)
	BehaviorBucket(zone string, at time.Time) (behavior.Bucket, bool)
}

type Dependencies struct {
	Logger  *log.Logger
	Addr    string
	Status  StatusSource
	Control Control
	Events  store.EventStore
	Zones   store.ZoneStore
	Hub     *Hub
	Now     func() time.Time
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	status     StatusSource
	control    Control
	events     store.EventStore
	zones      store.ZoneStore
	hub        *Hub
	now        func() time.Time
}

func NewServer(d Dependencies) *Server {
	s := &Server{
		logger:  d.Logger,
		status:  d.Status,
		control: d.Control,
		events:  d.Events,
		zones:   d.Zones,
		hub:     d.Hub,
		now:     d.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/zones", s.handleZones)
		r.Get("/events/detections", s.handleDetections)
		r.Get("/events/system", s.handleSystemEvents)
		r.Get("/stats/daily", s.handleDailyStats)
		if d.Control != nil {
			r.Post("/tamper/reset", s.handleTamperReset)
			r.Post("/alerts/cooldown/reset", s.handleCooldownReset)
			r.Get("/behavior/{zone}", s.handleBehaviorBucket)
		}
		if d.Hub != nil {
			r.Get("/live", d.Hub.ServeHTTP)
		}
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           loggingMiddleware(d.Logger, r),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks serving until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes live connections first; hijacked websockets are not
// tracked by http.Server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}
