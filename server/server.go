package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server represents the objects API server
type Server struct {
	config    *Config
	logger    logrus.FieldLogger
	store     *DocumentDBStore
	blobStore BlobStore
	service   *ObjectService
	httpSrv   *http.Server
	grpcSrv   *grpc.Server
	health    *health.Server
}

// NewServer connects the configured backends and wires the API
func NewServer(ctx context.Context, config *Config, logger logrus.FieldLogger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Create AWS session shared by the S3 and Secrets Manager clients
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            aws.Config{Region: aws.String(config.AWS.Region)},
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, newError(ErrConfiguration, err, "failed to create AWS session")
	}

	store, err := NewDocumentDBStore(ctx, sess, config.AWS.DocumentDB, logger)
	if err != nil {
		return nil, err
	}

	if config.AWS.S3.BucketName == "" {
		logger.Warn("no storage bucket configured, uploads will fail")
	}
	blobStore := NewS3BlobStore(sess, config.AWS.Region, config.AWS.S3)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := NewMetrics(registry)

	service := NewObjectService(store, blobStore, logger, metrics)
	handler := NewHandler(service, logger, HandlerOptions{
		Metrics:        metrics,
		Gatherer:       registry,
		Ready:          store.Ping,
		MaxUploadBytes: config.Server.MaxUploadBytes,
	})

	// Create gRPC server exposing the health service
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	return &Server{
		config:    config,
		logger:    logger,
		store:     store,
		blobStore: blobStore,
		service:   service,
		httpSrv: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Server.HTTPPort),
			Handler:           handler.Router(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		grpcSrv: grpcSrv,
		health:  healthSrv,
	}, nil
}

// Start serves gRPC and HTTP until ctx is cancelled or a listener fails,
// then shuts both down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 2)

	// Start gRPC server
	grpcAddr := fmt.Sprintf(":%d", s.config.Server.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
	}
	go func() {
		s.logger.WithField("addr", grpcAddr).Info("gRPC server listening")
		if err := s.grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	// Start HTTP server
	go func() {
		s.logger.WithField("addr", s.httpSrv.Addr).Info("HTTP server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case serveErr = <-errCh:
		s.logger.WithError(serveErr).Error("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeoutDuration())
	defer cancel()

	if err := s.Stop(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Stop stops the listeners and releases the backend connections
func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()

	var stopErr error
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		stopErr = fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	s.grpcSrv.GracefulStop()

	if err := s.store.Close(ctx); err != nil {
		s.logger.WithError(err).Warn("failed to disconnect record store")
	}

	return stopErr
}
