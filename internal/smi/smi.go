package smi

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"gpu-bench-pool/internal/telemetry"
)

const (
	queryUtilization = "--query-gpu=utilization.gpu"
	queryPower       = "--query-gpu=power.draw"
	formatArg        = "--format=csv,noheader,nounits"

	defaultTimeout = 5 * time.Second
)

var errNoOutput = errors.New("nvidia-smi returned no output")

// Reader queries nvidia-smi once per reading. Each call spawns a short-lived
// process, which dominates the cost of a poll tick.
type Reader struct {
	BinaryPath string
	// GPU restricts queries to one device index. Negative means all devices,
	// in which case the first reported device wins.
	GPU     int
	Timeout time.Duration

	now func() time.Time
}

func New(binaryPath string, gpu int, timeout time.Duration) *Reader {
	if strings.TrimSpace(binaryPath) == "" {
		binaryPath = "nvidia-smi"
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Reader{BinaryPath: binaryPath, GPU: gpu, Timeout: timeout, now: time.Now}
}

func (r *Reader) Name() string { return "nvidia-smi" }

func (r *Reader) Close() error { return nil }

func (r *Reader) Utilization(ctx context.Context) (int, error) {
	field, err := r.query(ctx, queryUtilization)
	if err != nil {
		return 0, err
	}
	util, err := strconv.Atoi(field)
	if err != nil {
		return 0, fmt.Errorf("parse utilization %q: %w", field, err)
	}
	return util, nil
}

func (r *Reader) Power(ctx context.Context) (telemetry.Sample, error) {
	field, err := r.query(ctx, queryPower)
	if err != nil {
		return telemetry.Sample{}, err
	}
	// Captured after the command returns, so the timestamp trails the
	// actual measurement by the process round trip.
	at := r.now()
	watts, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return telemetry.Sample{}, fmt.Errorf("parse power draw %q: %w", field, err)
	}
	return telemetry.Sample{Time: at, PowerWatts: watts}, nil
}

func (r *Reader) query(ctx context.Context, query string) (string, error) {
	qctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	args := []string{query, formatArg}
	if r.GPU >= 0 {
		args = append(args, "--id="+strconv.Itoa(r.GPU))
	}

	out, err := r.run(qctx, args...)
	if err != nil {
		return "", err
	}
	field, ok := firstField(out)
	if !ok {
		return "", fmt.Errorf("%s: %w", query, errNoOutput)
	}
	return field, nil
}

func (r *Reader) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// firstField returns the first comma-separated column of the first
// non-empty line. Multi-GPU hosts report one line per device.
func firstField(b []byte) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(b))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		col, _, _ := strings.Cut(line, ",")
		return strings.TrimSpace(col), true
	}
	return "", false
}
