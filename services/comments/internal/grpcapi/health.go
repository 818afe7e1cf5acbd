// Package grpcapi exposes the service's gRPC surface: standard health
// checking driven by datastore reachability, plus server reflection.
package grpcapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-check service key for the comment thread API.
const ServiceName = "comments.v1.CommentThreads"

// Pinger reports datastore reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health keeps the gRPC health status in step with the datastore.
type Health struct {
	srv      *health.Server
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
	last     healthpb.HealthCheckResponse_ServingStatus
}

func NewHealth(p Pinger, interval time.Duration, log *zap.Logger) *Health {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	h := &Health{
		srv:      health.NewServer(),
		pinger:   p,
		interval: interval,
		timeout:  2 * time.Second,
		log:      log,
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Server returns the underlying health server.
func (h *Health) Server() *health.Server { return h.srv }

// Probe pings once and records the result.
func (h *Health) Probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.pinger.Ping(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		if h.last != status {
			h.log.Warn("datastore unreachable", zap.Error(err))
		}
	}
	h.set(status)
}

// Run probes until ctx is done, then marks every service NOT_SERVING.
func (h *Health) Run(ctx context.Context) {
	h.Probe(ctx)
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-t.C:
			h.Probe(ctx)
		}
	}
}

func (h *Health) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.last = status
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(ServiceName, status)
}

// NewServer builds a gRPC server with health and reflection registered.
func NewServer(h *Health, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, h.Server())
	reflection.Register(s)
	return s
}
