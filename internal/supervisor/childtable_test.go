package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildTableAddTransitionDelete(t *testing.T) {
	table := NewChildTable()
	rec := table.Add(100, "gen-1", time.Now())
	require.Equal(t, StatusStarting, rec.Status)
	assert.Equal(t, 1, table.CountStatus(StatusStarting))

	table.Transition(100, StatusWaiting)
	assert.Equal(t, 0, table.CountStatus(StatusStarting))
	assert.Equal(t, 1, table.CountStatus(StatusWaiting))

	deleted := table.Delete(100)
	require.NotNil(t, deleted)
	assert.Equal(t, 100, deleted.Pid)
	assert.Equal(t, 0, table.Count())
	assert.Equal(t, 0, table.CountStatus(StatusWaiting))
}

func TestChildTableTransitionUnknownPidIsNoop(t *testing.T) {
	table := NewChildTable()
	table.Transition(999, StatusWaiting)
	assert.Equal(t, 0, table.Count())
}

func TestChildTableDeleteUnknownPidReturnsNil(t *testing.T) {
	table := NewChildTable()
	assert.Nil(t, table.Delete(999))
}

func TestChildTableSetIdentity(t *testing.T) {
	table := NewChildTable()
	table.Add(1, "gen-1", time.Now())
	table.SetIdentity(1, []byte("child_1"))

	snap := table.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "child_1", string(snap[0].Identity))
}

func TestChildTableSnapshotIsACopy(t *testing.T) {
	table := NewChildTable()
	table.Add(1, "gen-1", time.Now())
	snap := table.Snapshot()
	snap[0].Status = StatusExiting
	assert.Equal(t, StatusStarting, table.Snapshot()[0].Status)
}
