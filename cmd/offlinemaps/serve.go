package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/offline-maps/internal/config"
	"github.com/signalsfoundry/offline-maps/internal/events"
	"github.com/signalsfoundry/offline-maps/internal/logging"
	"github.com/signalsfoundry/offline-maps/internal/observability"
	"github.com/signalsfoundry/offline-maps/internal/offline"
	"github.com/signalsfoundry/offline-maps/internal/plugin"
	"github.com/signalsfoundry/offline-maps/internal/rpc"
	"github.com/signalsfoundry/offline-maps/internal/sdk/sim"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"google.golang.org/grpc"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the offline regions gRPC server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
			}
			return run(cmd.Context(), cfg, log, lis)
		},
	}
	f := cmd.Flags()
	f.String("grpc-addr", ":50051", "TCP address the gRPC server listens on")
	f.String("metrics-addr", ":9090", "HTTP address for Prometheus /metrics, empty disables it")
	f.String("storage-url", "", "gocloud.dev bucket URL, e.g. mem:// or file:///data")
	f.String("storage-dir", "", "directory for tiles and style packs when no URL is given")
	f.Duration("sim-step", 0, "delay between simulated download batches")
	f.Int("sim-batch-size", 0, "resources completed per simulated batch")
	f.Int("sim-max-tiles", 0, "upper bound on tiles per region")
	f.String("sim-disk-quota", "", "tile cache quota, e.g. 512MiB")
	f.Bool("tracing", false, "enable OpenTelemetry tracing")
	f.String("tracing-exporter", "stdout", "span exporter: stdout or otlp")
	f.String("tracing-endpoint", "localhost:4317", "OTLP gRPC endpoint")
	f.Float64("tracing-sample-ratio", 1, "fraction of traces to sample")
	return cmd
}

// run serves on lis until ctx is done.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.WithoutCancel(ctx), shutdownTracing, log)

	if cfg.Storage.URL == "" {
		if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}
	bucket, err := blob.OpenBucket(ctx, cfg.Storage.BucketURL())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer bucket.Close()

	collector, err := observability.NewCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("init metrics collector: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddr, collector, log)

	backend := sim.New(bucket, cfg.Sim, log.With(logging.String("component", "sim")))
	manager := offline.NewManager(offline.NewResources(backend), log, offline.WithMetrics(collector))
	dispatcher := plugin.NewDispatcher(manager, events.NewHub(events.DefaultBuffer), log)

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			rpc.RequestIDUnaryServerInterceptor(log),
			rpc.TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			rpc.RequestIDStreamServerInterceptor(log),
			rpc.TracingStreamServerInterceptor(),
			collector.StreamServerInterceptor(),
		),
	)
	rpc.Register(server, rpc.NewService(dispatcher, log))

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting offline regions gRPC server",
		logging.String("addr", lis.Addr().String()),
		logging.String("storage", cfg.Storage.BucketURL()),
	)
	go func() { serveErr <- server.Serve(lis) }()

	select {
	case <-ctx.Done():
		err = nil
	case err = <-serveErr:
	}

	log.Info(context.Background(), "shutting down offline regions server")
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := manager.CancelDownloads(stopCtx); cerr != nil {
		log.Warn(stopCtx, "active download did not finish", logging.Err(cerr))
	}
	gracefulStop(stopCtx, server)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(stopCtx)
	}
	if errors.Is(err, grpc.ErrServerStopped) {
		err = nil
	}
	return err
}

// gracefulStop falls back to Stop when open streams outlive ctx.
func gracefulStop(ctx context.Context, server *grpc.Server) {
	done := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		server.Stop()
		<-done
	}
}

func serveMetrics(addr string, collector *observability.Collector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
