package signals_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ido50/Net-Server-ZMQ/internal/signals"
)

func TestDrainClearsReapedPIDs(t *testing.T) {
	d := signals.New()
	d.InjectReapedPID(123)

	ev := d.Drain()
	assert.Equal(t, []int{123}, ev.ReapedPIDs)
	assert.False(t, ev.ShutdownRequested)

	ev2 := d.Drain()
	assert.Empty(t, ev2.ReapedPIDs)
}

func TestShutdownKindString(t *testing.T) {
	assert.Equal(t, "term", signals.ShutdownTerm.String())
	assert.Equal(t, "quit", signals.ShutdownQuit.String())
	assert.Equal(t, "none", signals.ShutdownNone.String())
}
