package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFree(t *testing.T) {
	assert.True(t, Executor{Status: StatusIdle}.Free())
	assert.True(t, Executor{Status: StatusAvailable}.Free())
	assert.False(t, Executor{Status: StatusBusy}.Free())
	assert.False(t, Executor{Status: StatusRunning}.Free())
}

func TestInMemoryRegistry(t *testing.T) {
	r := NewInMemoryRegistry("test-runner", "security-scanner")
	assert.Equal(t, []string{"security-scanner", "test-runner"}, r.SupportedTypes())

	r.Add(Executor{ID: "b", Type: "test-runner", Status: StatusIdle})
	r.Add(Executor{ID: "a", Type: "coverage-analyzer", Status: StatusBusy})

	// Adding an executor of a new type extends the supported set.
	assert.Contains(t, r.SupportedTypes(), "coverage-analyzer")

	all := r.All()
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)

	byType := r.ByType("test-runner")
	assert.Len(t, byType, 1)
	assert.Equal(t, "b", byType[0].ID)
}

func TestSetStatus(t *testing.T) {
	r := NewInMemoryRegistry()
	r.Add(Executor{ID: "x", Type: "test-runner", Status: StatusIdle})

	r.SetStatus("x", StatusBusy)
	assert.Equal(t, StatusBusy, r.All()[0].Status)

	// Unknown IDs are ignored.
	r.SetStatus("ghost", StatusIdle)
	assert.Len(t, r.All(), 1)
}

func TestAddReplaces(t *testing.T) {
	r := NewInMemoryRegistry()
	r.Add(Executor{ID: "x", Type: "test-runner", Status: StatusIdle})
	r.Add(Executor{ID: "x", Type: "test-runner", Status: StatusRunning})

	all := r.All()
	assert.Len(t, all, 1)
	assert.Equal(t, StatusRunning, all[0].Status)
}
