package graphws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingTable_RegisterDuplicate(t *testing.T) {
	tbl := newPendingTable()
	_, err := tbl.register("a")
	require.NoError(t, err)
	_, err = tbl.register("a")
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, tbl.len())
}

func TestPendingTable_UnknownID(t *testing.T) {
	tbl := newPendingTable()
	assert.ErrorIs(t, tbl.deliver("x", json.RawMessage(`1`)), ErrUnknownID)
	assert.ErrorIs(t, tbl.complete("x"), ErrUnknownID)
	assert.ErrorIs(t, tbl.fail("x", errors.New("boom")), ErrUnknownID)
}

func TestPendingTable_DeliverThenComplete(t *testing.T) {
	tbl := newPendingTable()
	e, err := tbl.register("a")
	require.NoError(t, err)

	require.NoError(t, tbl.deliver("a", json.RawMessage(`1`)))
	require.NoError(t, tbl.deliver("a", json.RawMessage(`2`)))
	require.NoError(t, tbl.complete("a"))
	assert.Equal(t, 0, tbl.len())
	assert.ErrorIs(t, tbl.complete("a"), ErrUnknownID, "an id completes at most once")

	ctx := context.Background()
	v, err := e.next(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `1`, string(v))
	v, err = e.next(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `2`, string(v))
	_, err = e.next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	_, err = e.next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPendingTable_FailQueuesErrorInOrder(t *testing.T) {
	tbl := newPendingTable()
	e, _ := tbl.register("a")
	boom := errors.New("boom")

	require.NoError(t, tbl.deliver("a", json.RawMessage(`1`)))
	require.NoError(t, tbl.fail("a", boom))
	assert.Equal(t, 0, tbl.len())

	v, err := e.next(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `1`, string(v))
	_, err = e.next(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestPendingTable_BroadcastFailure(t *testing.T) {
	tbl := newPendingTable()
	assert.Equal(t, 0, newPendingTable().broadcastFailure(errors.New("x")), "empty broadcast is a no-op")

	const n = 5
	entries := make([]*pendingEntry, 0, n)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		e, err := tbl.register(id)
		require.NoError(t, err)
		entries = append(entries, e)
	}
	require.NoError(t, tbl.deliver("a", json.RawMessage(`"buffered"`)))

	connErr := &ConnError{Cause: ErrClosed}
	assert.Equal(t, n, tbl.broadcastFailure(connErr))
	assert.Equal(t, 0, tbl.len())

	for _, e := range entries {
		_, err := e.next(context.Background())
		assert.ErrorIs(t, err, ErrClosed, "connection failure wins over buffered values")
		select {
		case <-e.done:
		default:
			t.Fatalf("entry %s not completed", e.id)
		}
	}

	_, err := tbl.register("late")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPendingEntry_NextWaitsAndHonoursContext(t *testing.T) {
	e := newPendingEntry("a")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := e.next(context.Background())
		assert.NoError(t, err)
		assert.JSONEq(t, `"late"`, string(v))
	}()
	time.Sleep(10 * time.Millisecond)
	e.push(item{body: json.RawMessage(`"late"`)})
	wg.Wait()
}

func TestResults_Helpers(t *testing.T) {
	tbl := newPendingTable()
	e, _ := tbl.register("a")
	res := &Results{id: "a", entry: e}
	for _, v := range []string{`{"n":1}`, `{"n":2}`} {
		require.NoError(t, tbl.deliver("a", json.RawMessage(v)))
	}
	require.NoError(t, tbl.complete("a"))

	type row struct {
		N int `json:"n"`
	}
	var got []int
	for r, err := range Decode[row](context.Background(), res) {
		require.NoError(t, err)
		got = append(got, r.N)
	}
	assert.Equal(t, []int{1, 2}, got)

	e2, _ := tbl.register("b")
	require.NoError(t, tbl.complete("b"))
	_, err := (&Results{id: "b", entry: e2}).First(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestResults_DecodeError(t *testing.T) {
	tbl := newPendingTable()
	e, _ := tbl.register("a")
	require.NoError(t, tbl.deliver("a", json.RawMessage(`"not a number"`)))
	require.NoError(t, tbl.complete("a"))

	for _, err := range Decode[int](context.Background(), &Results{id: "a", entry: e}) {
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode result of a")
	}
}
