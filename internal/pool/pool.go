package pool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gpu-bench-pool/internal/aggregate"
	"gpu-bench-pool/internal/config"
	"gpu-bench-pool/internal/hostinfo"
	"gpu-bench-pool/internal/instance"
	"gpu-bench-pool/internal/report"
	"gpu-bench-pool/internal/telemetry"
)

// ErrInstancesFailed is returned by Run when at least one instance failed.
// The summary is still written, but it under-reports the failed instances.
var ErrInstancesFailed = errors.New("benchmark instances failed")

type Options struct {
	Config   config.Config
	Reader   telemetry.Reader
	Launcher instance.Launcher
	Logger   *zap.Logger

	// Host is embedded in the run report when set.
	Host  *hostinfo.Info
	RunID string
}

type Summary struct {
	RunID      string
	Aggregate  aggregate.Aggregate
	Instances  []instance.Result
	Errors     []error
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time

	SummaryPath   string
	RunReportPath string
}

type Pool struct {
	cfg      config.Config
	reader   telemetry.Reader
	launcher instance.Launcher
	log      *zap.Logger
	host     *hostinfo.Info
	runID    string
}

func New(opts Options) *Pool {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	launcher := opts.Launcher
	if launcher == nil {
		launcher = instance.CommandLauncher{
			Path: opts.Config.BenchmarkCommand,
			Args: opts.Config.BenchmarkArgs,
			Dir:  opts.Config.BenchmarkDir,
		}
	}
	return &Pool{
		cfg:      opts.Config,
		reader:   opts.Reader,
		launcher: launcher,
		log:      log.With(zap.String("run_id", runID)),
		host:     opts.Host,
		runID:    runID,
	}
}

// Run starts every instance, waits for all of them and writes the reports.
// There is no deadline; a hung benchmark blocks Run until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) (Summary, error) {
	n := p.cfg.Instances
	sum := Summary{RunID: p.runID, StartedAt: time.Now()}

	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return sum, fmt.Errorf("create output dir: %w", err)
	}

	p.log.Info("benchmark run starting",
		zap.Int("instances", n),
		zap.Int("max_parallel", p.cfg.MaxParallel),
		zap.Duration("poll_interval", p.cfg.PollInterval),
		zap.String("telemetry", p.reader.Name()),
		zap.String("benchmark", p.cfg.BenchmarkCommand),
		zap.Strings("benchmark_args", p.cfg.BenchmarkArgs),
	)

	collector := aggregate.NewCollector(n * 4)
	results := make([]instance.Result, n)
	errs := make([]error, n)

	var g errgroup.Group
	if p.cfg.MaxParallel > 0 {
		g.SetLimit(p.cfg.MaxParallel)
	}
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			runner := instance.NewRunner(instance.Options{
				ID:                 i,
				Launcher:           p.launcher,
				Reader:             p.reader,
				Sink:               collector,
				Logger:             p.log,
				PollInterval:       p.cfg.PollInterval,
				ActiveThresholdPct: p.cfg.ActiveThresholdPct,
				CreditOpenInterval: p.cfg.CreditOpenInterval,
				ReportPath:         report.InstancePath(p.cfg.OutputDir, p.cfg.InstanceReportPattern, i),
			})
			results[i], errs[i] = runner.Run(ctx)
			if errs[i] != nil {
				// Collected per instance rather than returned, so that the
				// group never short-circuits and siblings keep running.
				p.log.Warn("instance failed", zap.Int("instance", i), zap.Error(errs[i]))
				return nil
			}
			p.log.Debug("instance finished",
				zap.Int("instance", i),
				zap.Int("ticks", results[i].Ticks),
				zap.Duration("active", results[i].Active),
				zap.Duration("wall", results[i].Wall),
			)
			return nil
		})
	}
	_ = g.Wait()

	collector.Close()
	sum.Aggregate = collector.Result()
	sum.Instances = results
	sum.FinishedAt = time.Now()
	for _, err := range errs {
		if err != nil {
			sum.Errors = append(sum.Errors, err)
		}
	}
	sum.Failed = len(sum.Errors)

	sum.SummaryPath = filepath.Join(p.cfg.OutputDir, p.cfg.SummaryReport)
	if err := report.WriteSummary(sum.SummaryPath, sum.Aggregate); err != nil {
		return sum, fmt.Errorf("write summary: %w", err)
	}
	if p.cfg.RunReport != "" {
		sum.RunReportPath = filepath.Join(p.cfg.OutputDir, p.cfg.RunReport)
		if err := report.WriteRun(sum.RunReportPath, p.runReport(sum, errs)); err != nil {
			return sum, fmt.Errorf("write run report: %w", err)
		}
	}

	p.log.Info("benchmark run finished",
		zap.Int("peak_utilization", sum.Aggregate.PeakUtilization),
		zap.Float64("total_active_s", sum.Aggregate.TotalActiveSeconds()),
		zap.Int("ticks", sum.Aggregate.Ticks),
		zap.Int("failed", sum.Failed),
		zap.Duration("elapsed", sum.FinishedAt.Sub(sum.StartedAt)),
	)

	if sum.Failed > 0 {
		return sum, fmt.Errorf("%w: %d of %d: %w", ErrInstancesFailed, sum.Failed, n, errors.Join(sum.Errors...))
	}
	return sum, nil
}

func (p *Pool) runReport(sum Summary, errs []error) report.Run {
	run := report.Run{
		RunID:              sum.RunID,
		StartedAt:          sum.StartedAt.UTC(),
		FinishedAt:         sum.FinishedAt.UTC(),
		TelemetrySource:    p.reader.Name(),
		BenchmarkCommand:   append([]string{p.cfg.BenchmarkCommand}, p.cfg.BenchmarkArgs...),
		PollInterval:       p.cfg.PollInterval.String(),
		Host:               p.host,
		PeakUtilization:    sum.Aggregate.PeakUtilization,
		TotalActiveSeconds: sum.Aggregate.TotalActiveSeconds(),
		ActiveIntervals:    sum.Aggregate.ActiveIntervals,
		Ticks:              sum.Aggregate.Ticks,
		InstancesTotal:     len(sum.Instances),
		InstancesFailed:    sum.Failed,
		Instances:          make([]report.Instance, 0, len(sum.Instances)),
	}
	for i, res := range sum.Instances {
		entry := report.Instance{
			ID:                   res.ID,
			PID:                  res.PID,
			ExitCode:             res.ExitCode,
			Ticks:                res.Ticks,
			Samples:              res.Samples,
			ActiveIntervals:      res.ActiveIntervals,
			ActiveSeconds:        res.Active.Seconds(),
			DroppedActiveSeconds: res.DroppedActive.Seconds(),
			WallSeconds:          res.Wall.Seconds(),
			Report:               res.ReportPath,
		}
		if errs[i] != nil {
			entry.Error = errs[i].Error()
		}
		run.Instances = append(run.Instances, entry)
	}
	return run
}
