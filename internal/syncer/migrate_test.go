package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTimestamp(t *testing.T) {
	valid := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, valid, NormalizeTimestamp(valid))

	before := time.Now()
	for name, ts := range map[string]time.Time{
		"zero":               {},
		"seconds read as ms": time.UnixMilli(time.Now().Unix()), // lands in early 1970
		"far future":         time.Date(2150, 1, 1, 0, 0, 0, 0, time.UTC),
		"before lower bound": time.Date(1999, 12, 31, 23, 59, 59, 0, time.UTC),
	} {
		got := NormalizeTimestamp(ts)
		assert.False(t, got.Before(before), "%s should be replaced with now", name)
	}
}
