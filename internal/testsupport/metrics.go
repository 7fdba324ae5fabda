package testsupport

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// GetMetricValue returns the value of the first series of metricName whose
// labels include labelFilter. Histograms report their sample count. A
// missing series reads as 0.
func GetMetricValue(t *testing.T, metricName string, labelFilter map[string]string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err, "failed to gather metrics")

	for _, family := range families {
		if family.GetName() != metricName {
			continue
		}
		for _, m := range family.GetMetric() {
			if hasLabels(m, labelFilter) {
				return valueOf(m)
			}
		}
	}
	return 0
}

func valueOf(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetHistogram() != nil:
		return float64(m.GetHistogram().GetSampleCount())
	default:
		return 0
	}
}

func hasLabels(m *dto.Metric, filter map[string]string) bool {
	matched := 0
	for _, pair := range m.GetLabel() {
		if want, ok := filter[pair.GetName()]; ok {
			if want != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(filter)
}

// AssertMetricDelta asserts that fn moves the metric by exactly expectedDelta.
func AssertMetricDelta(t *testing.T, metricName string, labels map[string]string, expectedDelta float64, fn func()) {
	t.Helper()

	before := GetMetricValue(t, metricName, labels)
	fn()
	after := GetMetricValue(t, metricName, labels)

	assert.Equal(t, expectedDelta, after-before, "metric %s%v delta mismatch", metricName, labels)
}

// AssertMetricDeltaAsync is AssertMetricDelta for metrics updated by background work.
func AssertMetricDeltaAsync(t *testing.T, metricName string, labels map[string]string, expectedDelta float64, fn func()) {
	t.Helper()

	before := GetMetricValue(t, metricName, labels)
	fn()

	require.Eventually(t, func() bool {
		return GetMetricValue(t, metricName, labels)-before == expectedDelta
	}, 2*time.Second, 20*time.Millisecond, "metric %s%v never moved by %v", metricName, labels, expectedDelta)
}

// AssertHistogramRecorded asserts that a histogram holds at least one sample.
func AssertHistogramRecorded(t *testing.T, metricName string, labels map[string]string) {
	t.Helper()

	assert.Positive(t, GetMetricValue(t, metricName, labels), "histogram %s%v has no samples", metricName, labels)
}

// AssertMetricValue asserts the current value of a counter or gauge.
func AssertMetricValue(t *testing.T, metricName string, labels map[string]string, expected float64) {
	t.Helper()

	assert.Equal(t, expected, GetMetricValue(t, metricName, labels), "metric %s%v value mismatch", metricName, labels)
}
