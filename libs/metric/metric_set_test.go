package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestMetricSet() *MetricSet {
	m := NewMetricSet()
	m.metrics["REPLICA"] = &mockItem{name: "REPLICA"}
	return m
}

func TestMetricSetHasMetrics(t *testing.T) {
	ms := newTestMetricSet()

	assert.True(t, ms.HasMetrics("REPLICA"), "should contain label(REPLICA)")
	assert.False(t, ms.HasMetrics("POOL"), "shouldn't contain label(POOL)")
}

func TestMetricSetSetMetrics(t *testing.T) {
	ms := newTestMetricSet()

	item := &mockItem{name: "REPLICA"}
	assert.NotNil(t, ms.SetMetrics("REPLICA", item), "duplicate label should fail")
	assert.Nil(t, ms.SetMetrics("POOL", item), "fresh label should register")

	assert.True(t, ms.HasMetrics("REPLICA"))
	assert.True(t, ms.HasMetrics("POOL"))
}

func TestMetricSetLabels(t *testing.T) {
	ms := newTestMetricSet()

	labels := ms.Labels()

	assert.Equal(t, 1, len(labels))
	assert.Equal(t, "REPLICA", labels[0])
}
