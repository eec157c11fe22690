package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"coursechatbot/awsd"
	"coursechatbot/configuration"
	"coursechatbot/descriptor"
	"coursechatbot/descriptor/models"
	"coursechatbot/driftChecker"
	"coursechatbot/errors"
	"coursechatbot/logger"
	"coursechatbot/metrics"
)

const (
	packageName = "main"
)

// loadGraph rebuilds the declared graph the watcher compares against
func loadGraph(config *configuration.Config, fsys afero.Fs) (*models.ResourceGraph, error) {
	assets, err := configuration.LoadAssets(fsys, config)
	if err != nil {
		return nil, err
	}
	return descriptor.Build(config.StackContext(), config.StackSpec(assets))
}

// newMetricsServer exposes reg on /metrics
func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func main() {
	if err := logger.InitializeFromEnv(); err != nil {
		panic(errors.New(errors.ErrConfigParse, "Failed to initialize logger",
			map[string]interface{}{
				"operation": "logger_init",
			}, err))
	}
	defer logger.Sync()

	logger := logger.For(packageName, "main")
	logger.Info("Drift watcher starting",
		zap.String("operation", "startup"),
	)

	// Load configuration
	config, err := configuration.Initialize()
	if err != nil {
		logger.Error("Failed to load configuration",
			zap.String("operation", "config_load"),
			zap.Error(err),
		)
		os.Exit(1)
	}

	graph, err := loadGraph(config, afero.NewOsFs())
	if err != nil {
		logger.Error("Failed to describe stack",
			zap.String("operation", "graph_build"),
			zap.Error(err),
		)
		os.Exit(1)
	}
	logger.Info("Declared stack loaded",
		zap.String("operation", "graph_build"),
		zap.String("stack", graph.Stack.StackName),
		zap.Int("resources", len(graph.Nodes)),
		zap.Int("check_interval", config.CheckInterval),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	awsClient, err := awsd.NewAWSClient(ctx, config)
	if err != nil {
		logger.Error("Failed to create AWS client",
			zap.String("operation", "aws_client_creation"),
			zap.Error(err),
		)
		os.Exit(1)
	}
	awsClient.WithRecorder(m)

	if config.AWSAccountID != "" {
		if err := awsClient.VerifyAccount(ctx, config.AWSAccountID); err != nil {
			logger.Error("Credentials belong to another account",
				zap.String("operation", "aws_identity"),
				zap.Error(err),
			)
			os.Exit(1)
		}
	}

	server := newMetricsServer(config.MetricsAddr, reg)
	go func() {
		logger.Info("Serving metrics",
			zap.String("operation", "metrics_serve"),
			zap.String("addr", config.MetricsAddr),
		)
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped",
				zap.String("operation", "metrics_serve"),
				zap.Error(err),
			)
		}
	}()

	var driftService driftChecker.DriftChecker = driftChecker.NewDriftService(awsClient, graph, zap.L().With(zap.String("package", "driftChecker")), m,
		time.Duration(config.ComparisonTimeout)*time.Second)

	// Handle OS signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- driftService.RunLoop(ctx, config.CheckInterval)
	}()

	// Wait for either a signal or an error
	select {
	case sig := <-sigChan:
		logger.Info("Received signal, initiating shutdown",
			zap.String("operation", "shutdown"),
			zap.String("signal", sig.String()),
		)
		cancel()
		<-errChan
	case err := <-errChan:
		logger.Error("Drift watcher stopped",
			zap.String("operation", "drift_check"),
			zap.Error(err),
		)
		shutdown(server)
		os.Exit(1)
	}

	shutdown(server)
	logger.Info("Shutdown complete",
		zap.String("operation", "shutdown_complete"),
	)
}

func shutdown(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}
