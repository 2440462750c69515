package nvmlwrap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"gpu-bench-pool/internal/telemetry"
)

// Reader implements telemetry via NVML (go-nvml cgo bindings). It reads the
// same counters nvidia-smi reports without spawning a process per query.
type Reader struct {
	gpu int

	mu          sync.Mutex
	initialized bool
	device      nvml.Device
}

func New(gpu int) *Reader {
	if gpu < 0 {
		gpu = 0
	}
	return &Reader{gpu: gpu}
}

func (r *Reader) Name() string { return "nvml" }

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil
	}
	r.initialized = false
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("nvml shutdown failed: %s", nvml.ErrorString(ret))
	}
	return nil
}

func (r *Reader) handle() (nvml.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return r.device, nil
	}

	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml init failed: %s", nvml.ErrorString(ret))
	}
	dev, ret := nvml.DeviceGetHandleByIndex(r.gpu)
	if ret != nvml.SUCCESS {
		_ = nvml.Shutdown()
		return nil, fmt.Errorf("nvml get handle index=%d failed: %s", r.gpu, nvml.ErrorString(ret))
	}
	r.device = dev
	r.initialized = true
	return dev, nil
}

func (r *Reader) Utilization(ctx context.Context) (int, error) {
	_ = ctx
	dev, err := r.handle()
	if err != nil {
		return 0, err
	}
	util, ret := dev.GetUtilizationRates()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("nvml utilization index=%d failed: %s", r.gpu, nvml.ErrorString(ret))
	}
	return int(util.Gpu), nil
}

func (r *Reader) Power(ctx context.Context) (telemetry.Sample, error) {
	_ = ctx
	dev, err := r.handle()
	if err != nil {
		return telemetry.Sample{}, err
	}
	milliwatts, ret := dev.GetPowerUsage()
	at := time.Now()
	if ret != nvml.SUCCESS {
		return telemetry.Sample{}, fmt.Errorf("nvml power usage index=%d failed: %s", r.gpu, nvml.ErrorString(ret))
	}
	return telemetry.Sample{Time: at, PowerWatts: float64(milliwatts) / 1000}, nil
}
