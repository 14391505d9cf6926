package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/Additional-Code/procura/internal/config"
	"github.com/Additional-Code/procura/internal/database"
	"github.com/Additional-Code/procura/pkg/errorbank"
)

// OrdersService is the health service name reported for the order store.
const OrdersService = "procura.orders"

const probeInterval = 15 * time.Second

// Module exposes the gRPC server and lifecycle hooks to Fx.
var Module = fx.Module("grpc_server",
	fx.Provide(NewHealth, NewServer),
	fx.Invoke(Run),
)

// NewHealth returns the health service; every service starts as NOT_SERVING until probed.
func NewHealth() *health.Server {
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(OrdersService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// NewServer builds a gRPC server with logging interceptors that translate application errors
// into status codes, and registers the health service on it.
func NewServer(logger *zap.Logger, h *health.Server) *grpc.Server {
	unary := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		err = toStatus(err)
		duration := time.Since(start)
		if err != nil {
			logger.Warn("grpc unary call finished", zap.String("method", info.FullMethod), zap.Duration("duration", duration), zap.Error(err))
		} else {
			logger.Debug("grpc unary call finished", zap.String("method", info.FullMethod), zap.Duration("duration", duration))
		}
		return resp, err
	}

	stream := func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := toStatus(handler(srv, ss))
		duration := time.Since(start)
		if err != nil {
			logger.Warn("grpc stream call finished", zap.String("method", info.FullMethod), zap.Duration("duration", duration), zap.Error(err))
		} else {
			logger.Debug("grpc stream call finished", zap.String("method", info.FullMethod), zap.Duration("duration", duration))
		}
		return err
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(unary),
		grpc.ChainStreamInterceptor(stream),
	)
	healthpb.RegisterHealthServer(server, h)
	return server
}

// RunParams are the dependencies of Run.
type RunParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Server    *grpc.Server
	Health    *health.Server
	Logger    *zap.Logger
	Database  *database.Connections `optional:"true"`
}

// Run binds the gRPC server to the configured host/port when enabled and keeps the health
// status in step with the database.
func Run(p RunParams) {
	if !p.Config.GRPC.Enabled {
		return
	}

	addr := fmt.Sprintf("%s:%d", p.Config.GRPC.Host, p.Config.GRPC.Port)
	var listener net.Listener
	probeCtx, cancelProbe := context.WithCancel(context.Background())

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen grpc: %w", err)
			}
			listener = ln
			p.Logger.Info("starting gRPC server", zap.String("addr", addr))
			go func() {
				if err := p.Server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
					p.Logger.Fatal("grpc server failed", zap.Error(err))
				}
			}()
			go WatchDatabase(probeCtx, p.Health, p.Database, probeInterval, p.Logger)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Logger.Info("stopping gRPC server")
			cancelProbe()
			p.Health.Shutdown()
			stopped := make(chan struct{})
			go func() {
				p.Server.GracefulStop()
				close(stopped)
			}()

			select {
			case <-ctx.Done():
				p.Server.Stop()
				return ctx.Err()
			case <-stopped:
				return nil
			}
		},
	})
}

// WatchDatabase sets the serving status from a database ping every interval until ctx ends.
// Without a database the services are reported as serving.
func WatchDatabase(ctx context.Context, h *health.Server, conns *database.Connections, interval time.Duration, logger *zap.Logger) {
	probe := func() {
		st := healthpb.HealthCheckResponse_SERVING
		if conns != nil {
			if err := conns.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("database probe failed", zap.Error(err))
				st = healthpb.HealthCheckResponse_NOT_SERVING
			}
		}
		h.SetServingStatus("", st)
		h.SetServingStatus(OrdersService, st)
	}

	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	appErr := errorbank.From(err)
	return status.Error(appErr.GRPCCode(), appErr.Message())
}
