package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gpu-bench-pool/internal/aggregate"
	"gpu-bench-pool/internal/hostinfo"
	"gpu-bench-pool/internal/telemetry"
)

var (
	instanceHeader = []string{"Time (s)", "Power Consumption (W)"}
	summaryHeader  = []string{"Maximum GPU Utilization (%)", "Total GPU Utilization Time (s)"}
)

// InstancePath names the report file for one instance. The pattern must
// contain a single %d verb for the instance id.
func InstancePath(dir, pattern string, id int) string {
	return filepath.Join(dir, fmt.Sprintf(pattern, id))
}

// ValidPattern reports whether pattern formats an instance id.
func ValidPattern(pattern string) bool {
	return strings.Count(pattern, "%d") == 1 && strings.Count(pattern, "%") == 1
}

// WriteInstance writes one instance's power samples in capture order.
func WriteInstance(path string, samples []telemetry.Sample) error {
	rows := make([][]string, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, []string{formatFloat(s.Seconds()), formatFloat(s.PowerWatts)})
	}
	return writeCSV(path, instanceHeader, rows)
}

// WriteSummary writes the single-row summary of the whole run.
func WriteSummary(path string, agg aggregate.Aggregate) error {
	row := []string{strconv.Itoa(agg.PeakUtilization), formatFloat(agg.TotalActiveSeconds())}
	return writeCSV(path, summaryHeader, [][]string{row})
}

func writeCSV(path string, header []string, rows [][]string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close report: %w", cerr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Instance is one instance's entry in the run report.
type Instance struct {
	ID                   int     `json:"id"`
	PID                  int     `json:"pid,omitempty"`
	ExitCode             int     `json:"exit_code"`
	Ticks                int     `json:"ticks"`
	Samples              int     `json:"samples"`
	ActiveIntervals      int     `json:"active_intervals"`
	ActiveSeconds        float64 `json:"active_seconds"`
	DroppedActiveSeconds float64 `json:"dropped_active_seconds"`
	WallSeconds          float64 `json:"wall_seconds"`
	Report               string  `json:"report,omitempty"`
	Error                string  `json:"error,omitempty"`
}

// Run is the JSON run report. It carries what the CSV summary cannot,
// notably which instances failed and therefore under-report.
type Run struct {
	RunID              string         `json:"run_id"`
	StartedAt          time.Time      `json:"started_at"`
	FinishedAt         time.Time      `json:"finished_at"`
	TelemetrySource    string         `json:"telemetry_source"`
	BenchmarkCommand   []string       `json:"benchmark_command"`
	PollInterval       string         `json:"poll_interval"`
	Host               *hostinfo.Info `json:"host,omitempty"`
	PeakUtilization    int            `json:"peak_utilization_pct"`
	TotalActiveSeconds float64        `json:"total_active_seconds"`
	ActiveIntervals    int            `json:"active_intervals"`
	Ticks              int            `json:"ticks"`
	InstancesTotal     int            `json:"instances_total"`
	InstancesFailed    int            `json:"instances_failed"`
	Instances          []Instance     `json:"instances"`
}

func WriteRun(path string, run Run) error {
	b, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write run report: %w", err)
	}
	return nil
}
