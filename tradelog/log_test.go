package tradelog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendAndEntries(t *testing.T) {
	t.Parallel()

	l := New(10)
	l.Append(Open, "opened long")
	l.Appendf(Order, "placed %d", 42)

	got := l.Entries()
	assert.Len(t, got, 2)
	assert.Equal(t, Open, got[0].Type)
	assert.Equal(t, "opened long", got[0].Detail)
	assert.Equal(t, "placed 42", got[1].Detail)
	assert.False(t, got[0].Time.IsZero())
}

func TestRingEvictsOldest(t *testing.T) {
	t.Parallel()

	l := New(3)
	for i := 0; i < 5; i++ {
		l.Appendf(Info, "entry %d", i)
	}

	got := l.Entries()
	assert.Len(t, got, 3)
	assert.Equal(t, "entry 2", got[0].Detail)
	assert.Equal(t, "entry 4", got[2].Detail)
}

func TestEntriesReturnsCopy(t *testing.T) {
	t.Parallel()

	l := New(5)
	l.Append(Info, "original")

	got := l.Entries()
	got[0].Detail = "mutated"

	assert.Equal(t, "original", l.Entries()[0].Detail)
}

func TestRestoreTrimsToCapacity(t *testing.T) {
	t.Parallel()

	var entries []Entry
	for i := 0; i < 6; i++ {
		entries = append(entries, Entry{Type: Info, Detail: fmt.Sprintf("old %d", i)})
	}

	l := New(4)
	l.Restore(entries)

	got := l.Entries()
	assert.Len(t, got, 4)
	assert.Equal(t, "old 2", got[0].Detail)
	assert.Equal(t, "old 5", got[3].Detail)
}

func TestZeroCapacityFallsBackToDefault(t *testing.T) {
	t.Parallel()

	l := New(0)
	for i := 0; i < DefaultCapacity+10; i++ {
		l.Append(Info, "x")
	}
	assert.Equal(t, DefaultCapacity, l.Len())
}
