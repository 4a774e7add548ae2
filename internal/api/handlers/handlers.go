package handlers

import (
	"context"
	"net/http"

	gorilla "github.com/gorilla/websocket"
	"github.com/tripnest/booking-payments/internal/domain/booking"
	"github.com/tripnest/booking-payments/internal/service/cancellation"
	"github.com/tripnest/booking-payments/internal/service/orchestrator"
	"github.com/tripnest/booking-payments/internal/service/reconciliation"
	"github.com/tripnest/booking-payments/pkg/logger"
	"github.com/tripnest/booking-payments/pkg/websocket"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Deps are the services the handlers call into
type Deps struct {
	Bookings     booking.Repository
	Orchestrator *orchestrator.Service
	Reconciler   *reconciliation.Engine
	Cancellation *cancellation.Service
	Hub          *websocket.Hub
	HealthChecks map[string]HealthCheck
	// AllowedOrigins restricts websocket upgrades; empty allows any origin
	AllowedOrigins []string
	ReadBuffer     int
	WriteBuffer    int
	Logger         *logger.Logger
}

// Handlers holds all handler dependencies
type Handlers struct {
	bookings     booking.Repository
	orchestrator *orchestrator.Service
	reconciler   *reconciliation.Engine
	cancellation *cancellation.Service
	hub          *websocket.Hub
	healthChecks map[string]HealthCheck
	upgrader     gorilla.Upgrader
	logger       *logger.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(d Deps) *Handlers {
	readBuf, writeBuf := d.ReadBuffer, d.WriteBuffer
	if readBuf <= 0 {
		readBuf = 1024
	}
	if writeBuf <= 0 {
		writeBuf = 1024
	}
	origins := make(map[string]bool, len(d.AllowedOrigins))
	for _, o := range d.AllowedOrigins {
		origins[o] = true
	}

	return &Handlers{
		bookings:     d.Bookings,
		orchestrator: d.Orchestrator,
		reconciler:   d.Reconciler,
		cancellation: d.Cancellation,
		hub:          d.Hub,
		healthChecks: d.HealthChecks,
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				return origins[r.Header.Get("Origin")]
			},
		},
		logger: d.Logger.Named("http"),
	}
}
