package instance

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gpu-bench-pool/internal/activity"
	"gpu-bench-pool/internal/aggregate"
	"gpu-bench-pool/internal/report"
	"gpu-bench-pool/internal/telemetry"
)

type State int32

const (
	Starting State = iota
	Running
	Draining
	Done
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Options struct {
	ID       int
	Launcher Launcher
	Reader   telemetry.Reader
	Sink     aggregate.Sink
	Logger   *zap.Logger

	PollInterval       time.Duration
	ActiveThresholdPct int
	// CreditOpenInterval credits an interval still open when the benchmark
	// exits. When false the interval is dropped and only reported in Result.
	CreditOpenInterval bool
	ReportPath         string

	// Now defaults to time.Now.
	Now func() time.Time
}

// Result describes one finished (or failed) instance.
type Result struct {
	ID              int
	PID             int
	ExitCode        int
	Ticks           int
	Samples         int
	ActiveIntervals int
	Active          time.Duration
	DroppedActive   time.Duration
	Wall            time.Duration
	ReportPath      string
}

// Runner drives one benchmark subprocess through
// Starting -> Running -> Draining -> Done, polling telemetry on every tick.
type Runner struct {
	opts  Options
	log   *zap.Logger
	now   func() time.Time
	state atomic.Int32
}

func NewRunner(opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Millisecond
	}
	return &Runner{
		opts: opts,
		log:  opts.Logger.With(zap.Int("instance", opts.ID)),
		now:  opts.Now,
	}
}

func (r *Runner) State() State { return State(r.state.Load()) }

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
	r.log.Debug("instance state", zap.Stringer("state", s))
}

func (r *Runner) Run(ctx context.Context) (res Result, err error) {
	res = Result{ID: r.opts.ID, ExitCode: -1}
	started := r.now()
	defer func() { res.Wall = r.now().Sub(started) }()

	r.setState(Starting)
	proc, err := r.opts.Launcher.Launch(ctx, r.opts.ID)
	if err != nil {
		return res, fmt.Errorf("instance %d: launch benchmark: %w", r.opts.ID, err)
	}
	res.PID = proc.PID()
	r.setState(Running)
	r.log.Debug("benchmark started", zap.Int("pid", res.PID))

	tracker := activity.NewTracker(r.opts.ActiveThresholdPct)
	samples, err := r.poll(ctx, proc, tracker, &res)
	if err != nil {
		// Nothing will observe the benchmark any more.
		_ = proc.Kill()
		<-proc.Done()
		res.ExitCode = proc.ExitCode()
		return res, fmt.Errorf("instance %d: %w", r.opts.ID, err)
	}

	r.setState(Draining)
	res.ExitCode = proc.ExitCode()
	if tracker.Open() {
		at := r.now()
		if r.opts.CreditOpenInterval {
			r.opts.Sink.AddActive(r.opts.ID, tracker.Close(at))
		} else {
			res.DroppedActive = at.Sub(tracker.ActiveSince())
			r.log.Info("active interval open at benchmark exit was dropped",
				zap.Duration("dropped", res.DroppedActive))
		}
	}
	res.ActiveIntervals = tracker.Intervals()
	res.Active = tracker.Total()
	res.Samples = len(samples)

	if err := report.WriteInstance(r.opts.ReportPath, samples); err != nil {
		return res, fmt.Errorf("instance %d: %w", r.opts.ID, err)
	}
	res.ReportPath = r.opts.ReportPath
	r.setState(Done)

	if res.ExitCode != 0 {
		r.log.Warn("benchmark exited non-zero", zap.Int("exit_code", res.ExitCode))
	}
	return res, nil
}

// poll runs ticks until the benchmark exits. The exit check happens before
// each tick, so a benchmark that is already gone yields no samples.
func (r *Runner) poll(ctx context.Context, proc Process, tracker *activity.Tracker, res *Result) ([]telemetry.Sample, error) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	var samples []telemetry.Sample
	for {
		select {
		case <-proc.Done():
			return samples, nil
		default:
		}

		util, err := r.opts.Reader.Utilization(ctx)
		if err != nil {
			return samples, fmt.Errorf("read utilization: %w", err)
		}
		if d, closed := tracker.Observe(util, r.now()); closed {
			r.opts.Sink.AddActive(r.opts.ID, d)
		}

		sample, err := r.opts.Reader.Power(ctx)
		if err != nil {
			return samples, fmt.Errorf("read power: %w", err)
		}
		samples = append(samples, sample)

		r.opts.Sink.ObserveUtilization(r.opts.ID, util)
		res.Ticks++

		select {
		case <-proc.Done():
		case <-ticker.C:
		case <-ctx.Done():
			return samples, ctx.Err()
		}
	}
}
