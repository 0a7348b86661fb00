package session

import (
	"testing"

	"github.com/midi-sniffer/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func named(fn string, count int) models.Summary {
	return models.Summary{Count: count, Resolved: &models.ResolvedMapping{Function: fn}}
}

func TestRecentRingOverwritesOldest(t *testing.T) {
	r := NewRecent(3)
	for i := 1; i <= 5; i++ {
		r.Emit(named("Jog", i))
	}
	assert.Equal(t, 3, r.Len())

	got := r.Snapshot("", 0)
	require.Len(t, got, 3)
	assert.Equal(t, []int{3, 4, 5}, []int{got[0].Count, got[1].Count, got[2].Count})
}

func TestRecentSnapshotFilterAndLimit(t *testing.T) {
	r := NewRecent(10)
	r.Emit(named("Cue", 1))
	r.Emit(named("Jog", 2))
	r.Emit(named("Cue", 3))
	r.Emit(models.Summary{Count: 4})

	cues := r.Snapshot("Cue", 0)
	require.Len(t, cues, 2)
	assert.Equal(t, 3, cues[1].Count)

	last := r.Snapshot("", 2)
	require.Len(t, last, 2)
	assert.Equal(t, 3, last[0].Count)
	assert.Equal(t, 4, last[1].Count)
}

func TestRecentSubscribe(t *testing.T) {
	r := NewRecent(10)
	ch, cancel := r.Subscribe(4)

	r.Emit(named("Cue", 1))
	got := <-ch
	assert.Equal(t, 1, got.Count)

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)

	ch2, _ := r.Subscribe(1)
	r.Finish()
	_, ok = <-ch2
	assert.False(t, ok)

	ch3, _ := r.Subscribe(1)
	_, ok = <-ch3
	assert.False(t, ok)
}

func TestMultiSinkSkipsNil(t *testing.T) {
	var got []int
	m := MultiSink{
		SinkFunc(func(s models.Summary) { got = append(got, s.Count) }),
		nil,
		SinkFunc(func(s models.Summary) { got = append(got, s.Count*10) }),
	}
	m.Emit(models.Summary{Count: 2})
	assert.Equal(t, []int{2, 20}, got)
}
