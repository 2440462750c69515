package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"gpu-bench-pool/internal/report"
)

type Config struct {
	// MaxParallel caps concurrently running instances; 0 runs all at once.
	Instances    int           `env:"INSTANCES"     envDefault:"50"`
	MaxParallel  int           `env:"MAX_PARALLEL"  envDefault:"0"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1ms"`

	BenchmarkCommand string   `env:"BENCHMARK_COMMAND" envDefault:"./b+tree.out"`
	BenchmarkArgs    []string `env:"BENCHMARK_ARGS"    envDefault:"file,../../data/b+tree/mil.txt,command,../../data/b+tree/command.txt" envSeparator:","`
	BenchmarkDir     string   `env:"BENCHMARK_DIR"`

	TelemetrySource  string        `env:"TELEMETRY_SOURCE"  envDefault:"smi"`
	NvidiaSMIPath    string        `env:"NVIDIA_SMI_PATH"   envDefault:"nvidia-smi"`
	GPUIndex         int           `env:"GPU_INDEX"         envDefault:"0"`
	TelemetryTimeout time.Duration `env:"TELEMETRY_TIMEOUT" envDefault:"5s"`

	// Utilization at or above ActiveThresholdPct counts as active.
	ActiveThresholdPct int  `env:"ACTIVE_UTIL_THRESHOLD_PERCENT" envDefault:"1"`
	CreditOpenInterval bool `env:"CREDIT_OPEN_INTERVAL"          envDefault:"false"`

	// RunReport is the JSON run report; empty disables it.
	OutputDir             string `env:"OUTPUT_DIR"              envDefault:"."`
	InstanceReportPattern string `env:"INSTANCE_REPORT_PATTERN" envDefault:"power_consumption_instance_%d.csv"`
	SummaryReport         string `env:"SUMMARY_REPORT"          envDefault:"gpu_data.csv"`
	RunReport             string `env:"RUN_REPORT"              envDefault:"gpu_data.json"`

	Debug bool `env:"DEBUG" envDefault:"false"`
}

// FromEnvAndFlags reads the environment first and lets flags override it.
func FromEnvAndFlags(args []string, output io.Writer) (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("gpu-bench-pool", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.IntVar(&cfg.Instances, "instances", cfg.Instances, "Number of concurrent benchmark instances")
	fs.IntVar(&cfg.MaxParallel, "max-parallel", cfg.MaxParallel, "Max instances running at once (0 = all)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Telemetry poll interval")
	fs.StringVar(&cfg.BenchmarkCommand, "benchmark-command", cfg.BenchmarkCommand, "Benchmark binary to run")
	fs.Func("benchmark-args", "Comma separated benchmark arguments", func(s string) error {
		cfg.BenchmarkArgs = SplitArgs(s)
		return nil
	})
	fs.StringVar(&cfg.BenchmarkDir, "benchmark-dir", cfg.BenchmarkDir, "Working directory for the benchmark")
	fs.StringVar(&cfg.TelemetrySource, "telemetry", cfg.TelemetrySource, "Telemetry source: smi or nvml")
	fs.StringVar(&cfg.NvidiaSMIPath, "nvidia-smi", cfg.NvidiaSMIPath, "Path to nvidia-smi")
	fs.IntVar(&cfg.GPUIndex, "gpu", cfg.GPUIndex, "GPU index to monitor (-1 = first reported by nvidia-smi)")
	fs.DurationVar(&cfg.TelemetryTimeout, "telemetry-timeout", cfg.TelemetryTimeout, "Timeout for a single telemetry query")
	fs.IntVar(&cfg.ActiveThresholdPct, "active-threshold", cfg.ActiveThresholdPct, "GPU util percent at or above which the GPU counts as active")
	fs.BoolVar(&cfg.CreditOpenInterval, "credit-open-interval", cfg.CreditOpenInterval, "Credit an active interval still open when the benchmark exits")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory for report files")
	fs.StringVar(&cfg.InstanceReportPattern, "instance-report", cfg.InstanceReportPattern, "Per-instance report file name, %d is the instance id")
	fs.StringVar(&cfg.SummaryReport, "summary-report", cfg.SummaryReport, "Summary report file name")
	fs.StringVar(&cfg.RunReport, "run-report", cfg.RunReport, "JSON run report file name (empty disables)")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Debug logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SplitArgs splits a comma separated argument list, dropping empty entries.
func SplitArgs(s string) []string {
	out := []string{}
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c Config) Validate() error {
	var errs []error
	if c.Instances <= 0 {
		errs = append(errs, fmt.Errorf("instances must be positive, got %d", c.Instances))
	}
	if c.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("max-parallel must not be negative, got %d", c.MaxParallel))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if strings.TrimSpace(c.BenchmarkCommand) == "" {
		errs = append(errs, errors.New("benchmark command is required"))
	}
	switch c.TelemetrySource {
	case "smi", "nvml":
	default:
		errs = append(errs, fmt.Errorf("unknown telemetry source %q", c.TelemetrySource))
	}
	if !report.ValidPattern(c.InstanceReportPattern) {
		errs = append(errs, fmt.Errorf("instance report pattern %q must contain exactly one %%d", c.InstanceReportPattern))
	}
	if strings.TrimSpace(c.SummaryReport) == "" {
		errs = append(errs, errors.New("summary report name is required"))
	}
	return errors.Join(errs...)
}
