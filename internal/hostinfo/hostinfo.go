package hostinfo

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Info describes the machine a benchmark ran on. Instances oversubscribe the
// CPU, so core count matters when reading wall-clock numbers.
type Info struct {
	Hostname   string `json:"hostname"`
	OS         string `json:"os"`
	Platform   string `json:"platform"`
	Kernel     string `json:"kernel"`
	Arch       string `json:"arch"`
	CPUModel   string `json:"cpu_model"`
	CPULogical int    `json:"cpu_logical"`
	MemoryMB   uint64 `json:"memory_mb"`
}

func Detect(ctx context.Context) (Info, error) {
	info := Info{Arch: runtime.GOARCH}

	h, err := host.InfoWithContext(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("failed to get host info: %w", err)
	}
	info.Hostname = h.Hostname
	info.OS = h.OS
	info.Platform = h.Platform
	info.Kernel = h.KernelVersion

	cpus, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("failed to get CPU info: %w", err)
	}
	if len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}

	logical, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return Info{}, fmt.Errorf("failed to count CPUs: %w", err)
	}
	info.CPULogical = logical

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	info.MemoryMB = vm.Total / 1024 / 1024

	return info, nil
}
