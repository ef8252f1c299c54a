package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentIngestedIncrementsCountersAndBytes(t *testing.T) {
	c := New()

	c.SegmentIngested(1024)
	c.SegmentIngested(2048)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.segmentsIngestedTotal))
	assert.Equal(t, float64(3072), testutil.ToFloat64(c.bytesIngestedTotal))
}

func TestSegmentEvictedIncrementsCounter(t *testing.T) {
	c := New()

	c.SegmentEvicted()
	c.SegmentEvicted()
	c.SegmentEvicted()

	assert.Equal(t, float64(3), testutil.ToFloat64(c.segmentsEvictedTotal))
}

func TestDownloadFailureIsLabeledByCategory(t *testing.T) {
	c := New()

	c.DownloadFailure("timeout")
	c.DownloadFailure("timeout")
	c.DownloadFailure("http-5xx")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.downloadFailuresTotal.WithLabelValues("timeout")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.downloadFailuresTotal.WithLabelValues("http-5xx")))
}

func TestDiscontinuityIncrementsCounter(t *testing.T) {
	c := New()

	c.Discontinuity()

	assert.Equal(t, float64(1), testutil.ToFloat64(c.discontinuitiesTotal))
}

func TestRegistryGathersEveryMetric(t *testing.T) {
	c := New()
	c.SegmentIngested(10)
	c.SegmentEvicted()
	c.DownloadFailure("timeout")
	c.Discontinuity()

	families, err := c.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}

	assert.True(t, names["timeshift_segments_ingested_total"])
	assert.True(t, names["timeshift_segments_evicted_total"])
	assert.True(t, names["timeshift_bytes_ingested_total"])
	assert.True(t, names["timeshift_download_failures_total"])
	assert.True(t, names["timeshift_discontinuities_total"])
}
