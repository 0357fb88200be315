// Package grpchealth probes the router's gRPC health endpoint using
// the standard grpc.health.v1 service, so the Health Loop never needs
// hand-written protobuf stubs for a simple up/down check.
package grpchealth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const dialTimeout = 5 * time.Second

// Prober dials a gRPC health endpoint on demand and reports whether
// the target service is SERVING.
type Prober struct {
	log *zap.Logger
}

// New builds a Prober.
func New(log *zap.Logger) *Prober {
	return &Prober{log: log}
}

// Check connects to host:port and asks whether service is serving.
// An empty service name checks the server's overall health. The
// connection is closed before returning.
func (p *Prober) Check(ctx context.Context, host string, port int, service string) (bool, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return false, fmt.Errorf("dial router gRPC health endpoint %s: %w", addr, err)
	}
	defer conn.Close()

	client := grpc_health_v1.NewHealthClient(conn)
	resp, err := client.Check(dialCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		p.log.Debug("router gRPC health check failed", zap.String("addr", addr), zap.Error(err))
		return false, err
	}
	return resp.Status == grpc_health_v1.HealthCheckResponse_SERVING, nil
}
