package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cratesmirror/mirror/internal/crate"
)

func meta(name string) crate.Metadata {
	return crate.Metadata{Identity: crate.Identity{Name: name, Version: "1.0.0"}}
}

func TestSubmitIdempotentPerMeta(t *testing.T) {
	c := New(4)
	m := meta("serde")

	sub1, err := c.Submit(m)
	require.NoError(t, err)
	sub2, err := c.Submit(m)
	require.NoError(t, err)

	assert.Equal(t, 1, c.Len())

	task := <-c.Tasks()
	assert.Equal(t, m, task.Meta)

	done1, done2 := make(chan struct{}), make(chan struct{})
	go func() { _ = sub1.Wait(context.Background()); close(done1) }()
	go func() { _ = sub2.Wait(context.Background()); close(done2) }()

	task.Pub.Finish()

	for _, d := range []chan struct{}{done1, done2} {
		select {
		case <-d:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not complete")
		}
	}
}

func TestCapacityCheckFailsFast(t *testing.T) {
	c := New(2)
	_, err := c.Submit(meta("a"))
	require.NoError(t, err)
	_, err = c.Submit(meta("b"))
	require.NoError(t, err)

	_, err = c.Submit(meta("c"))
	assert.ErrorIs(t, err, ErrOverloaded)
	assert.Equal(t, 2, c.Len())
}

func TestUnregisterRemovesEntry(t *testing.T) {
	c := New(4)
	m := meta("serde")
	_, err := c.Submit(m)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	c.Unregister(m)
	assert.Equal(t, 0, c.Len())

	// a fresh submit after unregister should be a brand new task, not a
	// coalesced one.
	_, err = c.Submit(m)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestDistinctChecksumsAreDistinctTasks(t *testing.T) {
	c := New(4)
	m1 := meta("serde")
	m1.Checksum = crate.Checksum{1}
	m2 := meta("serde")
	m2.Checksum = crate.Checksum{2}

	_, err := c.Submit(m1)
	require.NoError(t, err)
	_, err = c.Submit(m2)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestConcurrentSubmitsCoalesce(t *testing.T) {
	c := New(16)
	m := meta("tokio")

	const n = 100
	subs := make([]struct{ err error }, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			_, err := c.Submit(m)
			subs[i].err = err
		}()
	}
	wg.Wait()

	for _, s := range subs {
		require.NoError(t, s.err)
	}
	assert.Equal(t, 1, c.Len())
	assert.Len(t, c.Tasks(), 1)
}
