package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ido50/Net-Server-ZMQ/internal/metrics"
)

// TestCollectorRecordsWithoutPanicking exercises every recording method
// once against a single Collector; Prometheus panics on double
// registration against the default registry, so only one Collector may
// be built per test binary.
func TestCollectorRecordsWithoutPanicking(t *testing.T) {
	c := metrics.NewCollector()

	assert.NotPanics(t, func() {
		c.RecordDispatch(0.001)
		c.RecordReply()
		c.RecordDropped("malformed")
		c.RecordDropped("undeliverable")
		c.SetWorkerGauges(3, 1)
		c.RecordFork()
		c.RecordReap()
	})
}
