package metrics

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestCollectorSummary(t *testing.T) {
	mock := clock.NewMock()
	realClock := Clock
	Clock = mock
	defer func() { Clock = realClock }()

	c := NewCollector()

	span := c.StartSpan("download_assets")
	span.AddItems(3)
	mock.Add(2 * time.Second)
	span.End(true, "")

	span = c.StartSpan("render_segments")
	span.AddItems(2)
	mock.Add(10 * time.Second)
	span.End(true, "")

	span = c.StartSpan("render_segments")
	mock.Add(4 * time.Second)
	span.End(false, "ProcessingError")

	records := c.Records()
	require.Len(t, records, 3)
	require.Equal(t, "download_assets", records[0].Stage)
	require.Equal(t, 3, records[0].ItemsProcessed)
	require.Equal(t, 2*time.Second, records[0].Duration())
	require.Equal(t, "ProcessingError", records[2].ErrorKind)

	sum := c.Summary()
	require.Equal(t, 3, sum.Total)
	require.Equal(t, 2, sum.Successful)
	require.Equal(t, 1, sum.Failed)
	require.Equal(t, 2*time.Second, sum.AvgDurationByStage["download_assets"])
	require.Equal(t, 7*time.Second, sum.AvgDurationByStage["render_segments"])
}

func TestCollectorRecordsAreACopy(t *testing.T) {
	c := NewCollector()
	c.Record(StageRecord{Stage: "validate", Success: true})

	records := c.Records()
	records[0].Stage = "mutated"

	require.Equal(t, "validate", c.Records()[0].Stage)
}
