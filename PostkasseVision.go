package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"PostkasseVision/app"
	"PostkasseVision/config"
	"PostkasseVision/engine"
	proto "PostkasseVision/gRPC"
	"PostkasseVision/logger"
	"PostkasseVision/monitor"
	"PostkasseVision/server"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const (
	flagConfig   = "config"
	flagMode     = "mode"
	flagLogLevel = "log-level"
)

var cliApp = &cli.App{
	Name:  "postkasse-vision",
	Usage: "live mailbox framing and capacity analysis",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  flagConfig,
			Value: "config.yaml",
			Usage: "path to the yaml config",
		},
		&cli.StringFlag{
			Name:  flagMode,
			Usage: "override the configured mode: live, analysis-server or detector-server",
		},
		&cli.StringFlag{
			Name:  flagLogLevel,
			Usage: "override the configured log level",
		},
	},
	Action: runAction,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAction(c *cli.Context) error {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return err
	}
	if m := c.String(flagMode); m != "" {
		cfg.Mode = m
	}
	if l := c.String(flagLogLevel); l != "" {
		cfg.LogLevel = l
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		return err
	}
	defer logger.Sync()

	banner(cfg)

	ctx := c.Context
	go monitor.StartMon(cfg.MetricsPort, ctx)

	log := logger.Log()
	switch cfg.Mode {
	case config.ModeAnalysisServer:
		return runAnalysisServer(ctx, cfg, log)
	case config.ModeDetectorServer:
		return runDetectorServer(ctx, cfg, log)
	default:
		return runLive(ctx, cfg, log)
	}
}

func banner(cfg config.Config) {
	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
	fmt.Println("Mode:", cfg.Mode)
	switch cfg.Mode {
	case config.ModeAnalysisServer:
		fmt.Println("Analysis Port:", cfg.Server.AnalysisPort)
	case config.ModeDetectorServer:
		fmt.Println("   gRPC Port:", cfg.GRPCPort)
		fmt.Println("Workers Num:", cfg.Detector.WorkersNum)
	default:
		fmt.Println("Control Port:", cfg.Server.ControlPort)
		fmt.Println("    Detector:", cfg.Detector.Backend)
		fmt.Println("    Endpoint:", cfg.Remote.Endpoint)
	}
	fmt.Println("Metrics Port:", cfg.MetricsPort)
	fmt.Println(strings.Repeat("#", 64))
	if cfg.Mode == config.ModeDetectorServer && cfg.Detector.WorkersNum > runtime.NumCPU() {
		fmt.Println(strings.Repeat("!", 64))
		fmt.Println("Please note that workersNum exceeds CPU cores, which may lead to performance degradation.")
		fmt.Println(strings.Repeat("!", 64))
	}
	fmt.Println("")
}

func runLive(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	det, closeDetector, err := app.NewDetector(cfg, log)
	if err != nil {
		return err
	}
	defer closeDetector()

	live := app.NewLive(app.Options{
		Config:     cfg,
		Detector:   det,
		Analyzer:   app.NewAnalyzer(cfg, log),
		OpenCamera: app.OpenCamera(cfg, log),
	}, log.Named("live"))
	return live.Run(ctx)
}

func runAnalysisServer(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	if err := engine.SelfCheck(); err != nil {
		log.Error("analysis self check failed", zap.Error(err))
		return err
	}
	log.Info("analysis self check passed")
	router, err := server.NewAnalysisRouter(cfg.Server.UploadDir, nil, log.Named("server"))
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.AnalysisPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("analysis server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runDetectorServer(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	ecfg := engine.DefaultConfig()
	ecfg.MinConfidence = cfg.Detector.MinConfidence
	ecfg.MinSize = cfg.Detector.MinSize
	ecfg.MaxObservations = cfg.Detector.MaxObservations

	backend, err := proto.NewServer(ecfg, cfg.Detector.WorkersNum, log.Named("grpc"))
	if err != nil {
		return err
	}
	backend.StartWorker()
	defer backend.Stop()

	lis, err := proto.Listen(cfg.GRPCPort)
	if err != nil {
		return err
	}
	fmt.Println("Starting gRPC Server")
	srv := proto.StartGRPCServer(lis, backend, log.Named("grpc"))
	<-ctx.Done()
	srv.GracefulStop()
	fmt.Println("Safely exited")
	return nil
}
