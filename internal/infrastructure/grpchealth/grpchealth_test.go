package grpchealth

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func startHealthServer(t *testing.T, status grpc_health_v1.HealthCheckResponse_ServingStatus) (host string, port int) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	hs := health.NewServer()
	hs.SetServingStatus("", status)

	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	addr := lis.Addr().String()
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	portNum, err := strconv.Atoi(p)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return h, portNum
}

func TestCheckReturnsTrueWhenServing(t *testing.T) {
	host, port := startHealthServer(t, grpc_health_v1.HealthCheckResponse_SERVING)
	p := New(zaptest.NewLogger(t))

	ok, err := p.Check(context.Background(), host, port, "")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !ok {
		t.Error("expected Check() = true for a SERVING status")
	}
}

func TestCheckReturnsFalseWhenNotServing(t *testing.T) {
	host, port := startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	p := New(zaptest.NewLogger(t))

	ok, err := p.Check(context.Background(), host, port, "")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if ok {
		t.Error("expected Check() = false for a NOT_SERVING status")
	}
}

func TestCheckErrorsOnUnreachableTarget(t *testing.T) {
	p := New(zaptest.NewLogger(t))
	_, err := p.Check(context.Background(), "127.0.0.1", 1, "")
	if err == nil {
		t.Fatal("expected an error dialing an unreachable target")
	}
	if !strings.Contains(err.Error(), "") {
		t.Fatalf("unexpected error: %v", err)
	}
}
