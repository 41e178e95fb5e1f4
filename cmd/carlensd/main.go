package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/car-analyzer/internal/common"
	"github.com/joseph-ayodele/car-analyzer/internal/metrics"
	"github.com/joseph-ayodele/car-analyzer/internal/pipeline"
	"github.com/joseph-ayodele/car-analyzer/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := common.LoadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	logger.Info("config.loaded",
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"model", cfg.LLM.Model,
		"base_url", cfg.LLM.BaseURL,
		"api_key", common.MaskSecret(cfg.LLM.APIKey),
		"max_dimension", cfg.Image.MaxDimension,
		"heic_converter", cfg.Image.HeicConverter,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	analyzer := pipeline.NewFromConfig(cfg, logger)
	if err := analyzer.Ready(); err != nil {
		// still serve: every analysis reports the configuration error
		logger.Warn("analyzer.not_ready", "error", err)
	}

	handler, err := server.NewHTTPHandler(analyzer, cfg.Server, logger)
	if err != nil {
		logger.Error("failed to build http handler", "error", err)
		os.Exit(1)
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http.listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(sctx)
	})

	if cfg.GRPCEnabled() {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
			os.Exit(1)
		}
		grpcServer, healthServer := server.NewGRPCServer(analyzer, cfg.Server.MaxUploadBytes, logger)

		g.Go(func() error {
			logger.Info("grpc.listening", "addr", lis.Addr().String())
			return grpcServer.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			healthServer.Shutdown()
			done := make(chan struct{})
			go func() {
				grpcServer.GracefulStop()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(shutdownTimeout):
				grpcServer.Stop()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("carlensd stopped")
}
