package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeSMI = `#!/bin/sh
case "$1" in
--query-gpu=utilization.gpu) echo 42 ;;
--query-gpu=power.draw) echo 187.25 ;;
*) exit 2 ;;
esac
`

func TestRunEndToEnd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}

	dir := t.TempDir()
	smiPath := filepath.Join(dir, "nvidia-smi")
	require.NoError(t, os.WriteFile(smiPath, []byte(fakeSMI), 0o755))
	out := filepath.Join(dir, "out")

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"-instances", "2",
		"-poll-interval", "5ms",
		"-benchmark-command", "/bin/sh",
		"-benchmark-args", "-c,sleep 0.2",
		"-nvidia-smi", smiPath,
		"-gpu", "-1",
		"-output-dir", out,
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	assert.Equal(t, "Maximum GPU Utilization: 42\nTotal GPU Utilization Time (s): 0\n", stdout.String())
	for _, name := range []string{
		"power_consumption_instance_0.csv",
		"power_consumption_instance_1.csv",
		"gpu_data.csv",
		"gpu_data.json",
	} {
		assert.FileExists(t, filepath.Join(out, name))
	}
}

func TestRunFailedInstancesExitNonZero(t *testing.T) {
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"-instances", "1",
		"-benchmark-command", filepath.Join(dir, "missing-benchmark"),
		"-output-dir", dir,
		"-run-report", "",
	}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), "Maximum GPU Utilization: 0")
	assert.FileExists(t, filepath.Join(dir, "gpu_data.csv"))
}

func TestRunInvalidConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run([]string{"-instances", "0"}, &stdout, &stderr))
	assert.Equal(t, 2, run([]string{"-no-such-flag"}, &stdout, &stderr))
	assert.Equal(t, 0, run([]string{"-h"}, &stdout, &stderr))
	assert.Empty(t, stdout.String())
}
