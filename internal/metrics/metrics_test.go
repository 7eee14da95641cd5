package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingSnapshotBeforeFull(t *testing.T) {
	r := NewRing(3)
	r.Record(Sample{Name: "a", Value: 1})
	r.Record(Sample{Name: "b", Value: 2})

	snap := r.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Name)
	assert.Equal(t, "b", snap[1].Name)
}

func TestRingWrapsAndOverwritesOldest(t *testing.T) {
	r := NewRing(2)
	r.Record(Sample{Name: "a"})
	r.Record(Sample{Name: "b"})
	r.Record(Sample{Name: "c"})

	snap := r.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].Name)
	assert.Equal(t, "c", snap[1].Name)
}
