package nvmlwrap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gpu-bench-pool/internal/telemetry"
)

var _ telemetry.Reader = (*Reader)(nil)

func TestNewClampsIndex(t *testing.T) {
	assert.Equal(t, 0, New(-1).gpu)
	assert.Equal(t, 3, New(3).gpu)
	assert.Equal(t, "nvml", New(0).Name())
}

func TestCloseBeforeInit(t *testing.T) {
	r := New(0)
	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())
}
