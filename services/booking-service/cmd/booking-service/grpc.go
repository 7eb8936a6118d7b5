package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/tenantbook/libs/grpcx"
	"github.com/md-rashed-zaman/tenantbook/libs/runtime"
)

const healthService = "tenantbook.booking.v1.BookingService"

// startHealthServer serves grpc.health.v1 and mirrors the /readyz checks
// into the overall serving status.
func startHealthServer(ctx context.Context, logger *slog.Logger, port string, checks ...runtime.ReadyCheck) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpcx.NewServer(logger)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go watchReadiness(ctx, hs, checks)

	go func() {
		<-ctx.Done()
		hs.Shutdown()
		srv.GracefulStop()
	}()
	return nil
}

func watchReadiness(ctx context.Context, hs *health.Server, checks []runtime.ReadyCheck) {
	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if !runtime.AllReady(ctx, checks...) {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(healthService, status)
	}
	update()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
