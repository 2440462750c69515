package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"gpu-bench-pool/internal/config"
	"gpu-bench-pool/internal/hostinfo"
	"gpu-bench-pool/internal/logging"
	nvmlwrap "gpu-bench-pool/internal/nvml"
	"gpu-bench-pool/internal/pool"
	"gpu-bench-pool/internal/smi"
	"gpu-bench-pool/internal/telemetry"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.FromEnvAndFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	// stdout carries the summary only.
	logger := logging.NewJSONLogger(stderr, cfg.Debug)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reader := newReader(cfg)
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Warn("telemetry close failed", zap.Error(err))
		}
	}()

	var host *hostinfo.Info
	if info, err := hostinfo.Detect(ctx); err != nil {
		logger.Warn("host detection failed", zap.Error(err))
	} else {
		host = &info
		logger.Info("host detected",
			zap.String("cpu_model", info.CPUModel),
			zap.Int("cpu_logical", info.CPULogical),
			zap.Uint64("memory_mb", info.MemoryMB),
		)
	}

	p := pool.New(pool.Options{
		Config: cfg,
		Reader: reader,
		Logger: logger,
		Host:   host,
	})

	sum, err := p.Run(ctx)
	if err != nil && !errors.Is(err, pool.ErrInstancesFailed) {
		logger.Error("benchmark run failed", zap.Error(err))
		return 1
	}

	fmt.Fprintln(stdout, "Maximum GPU Utilization:", sum.Aggregate.PeakUtilization)
	fmt.Fprintln(stdout, "Total GPU Utilization Time (s):", sum.Aggregate.TotalActiveSeconds())

	if err != nil {
		logger.Error("some instances failed; summary under-reports them",
			zap.Int("failed", sum.Failed),
			zap.Int("instances", cfg.Instances),
			zap.Error(err),
		)
		return 1
	}
	return 0
}

func newReader(cfg config.Config) telemetry.Reader {
	switch cfg.TelemetrySource {
	case "nvml":
		return nvmlwrap.New(cfg.GPUIndex)
	default:
		return smi.New(cfg.NvidiaSMIPath, cfg.GPUIndex, cfg.TelemetryTimeout)
	}
}
