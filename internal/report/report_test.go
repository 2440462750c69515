package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpu-bench-pool/internal/aggregate"
	"gpu-bench-pool/internal/telemetry"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instance.csv")
	samples := []telemetry.Sample{
		{Time: time.Unix(1_700_000_000, 500_000_000), PowerWatts: 71.5},
		{Time: time.Unix(1_700_000_001, 0), PowerWatts: 250},
	}

	require.NoError(t, WriteInstance(path, samples))

	assert.Equal(t, [][]string{
		{"Time (s)", "Power Consumption (W)"},
		{"1700000000.5", "71.5"},
		{"1700000001", "250"},
	}, readCSV(t, path))
}

func TestWriteInstanceNoSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")

	require.NoError(t, WriteInstance(path, nil))
	assert.Equal(t, [][]string{{"Time (s)", "Power Consumption (W)"}}, readCSV(t, path))
}

func TestInstanceReportsAreIndependent(t *testing.T) {
	dir := t.TempDir()
	first := InstancePath(dir, "power_%d.csv", 0)
	second := InstancePath(dir, "power_%d.csv", 1)

	require.NoError(t, WriteInstance(first, []telemetry.Sample{{Time: time.Unix(1, 0), PowerWatts: 1}}))
	require.NoError(t, WriteInstance(second, []telemetry.Sample{{Time: time.Unix(2, 0), PowerWatts: 2}}))
	require.NoError(t, os.Remove(first))

	assert.Equal(t, [][]string{
		{"Time (s)", "Power Consumption (W)"},
		{"2", "2"},
	}, readCSV(t, second))
}

func TestWriteSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpu_data.csv")
	agg := aggregate.Aggregate{PeakUtilization: 98, TotalActive: 1500 * time.Millisecond}

	require.NoError(t, WriteSummary(path, agg))

	assert.Equal(t, [][]string{
		{"Maximum GPU Utilization (%)", "Total GPU Utilization Time (s)"},
		{"98", "1.5"},
	}, readCSV(t, path))
}

func TestWriteFailsOnMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "gpu_data.csv")
	assert.Error(t, WriteSummary(path, aggregate.Aggregate{}))
}

func TestInstancePath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "power_consumption_instance_7.csv"),
		InstancePath("out", "power_consumption_instance_%d.csv", 7))
}

func TestValidPattern(t *testing.T) {
	assert.True(t, ValidPattern("power_consumption_instance_%d.csv"))
	assert.False(t, ValidPattern("power.csv"))
	assert.False(t, ValidPattern("power_%d_%d.csv"))
	assert.False(t, ValidPattern("power_%s.csv"))
}

func TestWriteRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpu_data.json")
	run := Run{
		RunID:           "run-1",
		PeakUtilization: 40,
		InstancesTotal:  2,
		InstancesFailed: 1,
		Instances: []Instance{
			{ID: 0, Samples: 3, Report: "power_consumption_instance_0.csv"},
			{ID: 1, Error: "telemetry: nvidia-smi failed"},
		},
	}

	require.NoError(t, WriteRun(path, run))

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.EqualValues(t, 1, decoded["instances_failed"])
	assert.Len(t, decoded["instances"], 2)
	assert.NotContains(t, decoded, "host")
}
