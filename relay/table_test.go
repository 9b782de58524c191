package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(id uint64) *Session {
	return &Session{id: id, slot: -1, state: StateUnregistered}
}

func TestSessionTable_acquire(t *testing.T) {
	t.Run("fills slots in order", func(t *testing.T) {
		table := NewSessionTable(3)

		for want := 0; want < 3; want++ {
			sess := testSession(uint64(want + 1))
			slot, err := table.Acquire(sess)
			require.NoError(t, err)
			assert.Equal(t, want, slot)
			assert.Equal(t, want, sess.slot)
		}

		assert.Equal(t, 3, table.Count())
	})

	t.Run("full table rejects", func(t *testing.T) {
		table := NewSessionTable(1)
		_, err := table.Acquire(testSession(1))
		require.NoError(t, err)

		_, err = table.Acquire(testSession(2))
		assert.ErrorIs(t, err, ErrTableFull)
		assert.Equal(t, 1, table.Count())
	})
}

func TestSessionTable_releaseAndReuse(t *testing.T) {
	table := NewSessionTable(2)

	a := testSession(1)
	b := testSession(2)
	_, err := table.Acquire(a)
	require.NoError(t, err)
	slotB, err := table.Acquire(b)
	require.NoError(t, err)

	t.Run("released slot empties immediately", func(t *testing.T) {
		table.Release(slotB)
		assert.Nil(t, table.Get(slotB))
		assert.Equal(t, -1, b.slot)
		assert.Equal(t, 1, table.Count())
	})

	t.Run("released slot is reusable", func(t *testing.T) {
		c := testSession(3)
		slot, err := table.Acquire(c)
		require.NoError(t, err)
		assert.Equal(t, slotB, slot)
		assert.Same(t, c, table.Get(slot))
	})

	t.Run("releasing an empty slot is a no-op", func(t *testing.T) {
		table.Release(slotB + 100)
		count := table.Count()
		table.Release(slotB)
		table.Release(slotB)
		assert.Equal(t, count-1, table.Count())
	})
}

func TestSessionTable_lookup(t *testing.T) {
	table := NewSessionTable(2)
	sess := testSession(7)
	slot, err := table.Acquire(sess)
	require.NoError(t, err)

	t.Run("matching id resolves", func(t *testing.T) {
		assert.Same(t, sess, table.Lookup(slot, 7))
	})

	t.Run("stale id resolves to nil", func(t *testing.T) {
		assert.Nil(t, table.Lookup(slot, 6))
	})

	t.Run("stale handle after slot reuse resolves to nil", func(t *testing.T) {
		table.Release(slot)
		next := testSession(8)
		reused, err := table.Acquire(next)
		require.NoError(t, err)
		require.Equal(t, slot, reused)

		assert.Nil(t, table.Lookup(slot, 7))
		assert.Same(t, next, table.Lookup(slot, 8))
	})

	t.Run("out of range slot", func(t *testing.T) {
		assert.Nil(t, table.Get(-1))
		assert.Nil(t, table.Get(99))
	})
}

func TestSessionTable_forEachOccupied(t *testing.T) {
	table := NewSessionTable(4)

	first := testSession(1)
	second := testSession(2)
	third := testSession(3)
	for _, s := range []*Session{first, second, third} {
		_, err := table.Acquire(s)
		require.NoError(t, err)
	}
	table.Release(second.slot)

	t.Run("visits only occupied slots in order", func(t *testing.T) {
		var seen []uint64
		table.ForEachOccupied(func(sess *Session) bool {
			seen = append(seen, sess.id)
			return true
		})
		assert.Equal(t, []uint64{1, 3}, seen)
	})

	t.Run("stops early when fn returns false", func(t *testing.T) {
		visits := 0
		table.ForEachOccupied(func(sess *Session) bool {
			visits++
			return false
		})
		assert.Equal(t, 1, visits)
	})
}

func TestSessionState_string(t *testing.T) {
	assert.Equal(t, "unregistered", StateUnregistered.String())
	assert.Equal(t, "registered", StateRegistered.String())
	assert.Equal(t, "closed", StateClosed.String())
}
