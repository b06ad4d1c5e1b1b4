package compaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExceedsThresholdsTriggersOnEitherGate(t *testing.T) {
	s := ResourceSample{IOBusyFraction: 0.9, MemoryUsedFraction: 0.2}
	assert.True(t, s.ExceedsThresholds(0.8, 0.95))
	assert.True(t, ResourceSample{IOBusyFraction: 0.1, MemoryUsedFraction: 0.99}.ExceedsThresholds(0.8, 0.95))
	assert.False(t, s.ExceedsThresholds(0.95, 0.95))
}

func TestExceedsThresholdsDisabledWhenNonPositive(t *testing.T) {
	s := ResourceSample{IOBusyFraction: 1, MemoryUsedFraction: 1}
	assert.False(t, s.ExceedsThresholds(0, 0))
}
