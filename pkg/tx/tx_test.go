package tx

import (
	"context"
	"testing"
	"time"

	"github.com/edgeflare/txaction/internal/testutil"
	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(table string, op cdc.Operation, txID string, order, count int64, after map[string]any) cdc.Event {
	b := cdc.NewEventBuilder().
		WithSource(cdc.NewSourceBuilder("postgresql", "test").WithTable(table).WithTimestamp(order).Build()).
		WithOperation(op).
		WithAfter(after)
	if txID != "" {
		b = b.WithTransaction(&cdc.Transaction{ID: txID, TotalOrder: order, EventCount: count})
	}
	return b.Build()
}

func TestParseKind(t *testing.T) {
	testCases := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{in: "INSERT", want: Insert},
		{in: "insert", want: Insert},
		{in: "c", want: Insert},
		{in: "Update", want: Update},
		{in: "d", want: Delete},
		{in: "truncate", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseKind(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFromEvents(t *testing.T) {
	data, err := testutil.ReadFile("register_user.json")
	require.NoError(t, err)
	events, err := cdc.DecodeAll(data)
	require.NoError(t, err)

	transaction, err := FromEvents("7701", events)
	require.NoError(t, err)

	assert.Equal(t, []string{"userprofiles_userprofile", "accounts_user"}, transaction.Tables())
	assert.Equal(t, Insert, transaction.Operations[0].Kind)

	ts, ok := transaction.Timestamp()
	require.True(t, ok)
	assert.Equal(t, int64(1689325284000000), ts)

	_, err = FromEvents("1", []cdc.Event{event("t", cdc.OpTruncate, "1", 1, 1, nil)})
	assert.Error(t, err)
}

func TestTimestampEmpty(t *testing.T) {
	_, ok := New("empty").Timestamp()
	assert.False(t, ok)
}

func TestAssembler(t *testing.T) {
	t.Run("completes on event count", func(t *testing.T) {
		a := NewAssembler(nil)
		assert.Empty(t, a.Add(event("a", cdc.OpCreate, "1", 1, 2, nil)))
		done := a.Add(event("b", cdc.OpCreate, "1", 2, 2, nil))
		require.Len(t, done, 1)
		assert.Equal(t, "1", done[0].ID)
		assert.Equal(t, []string{"a", "b"}, done[0].Tables())
		assert.False(t, a.Pending())
	})

	t.Run("completes on id change", func(t *testing.T) {
		a := NewAssembler(nil)
		assert.Empty(t, a.Add(event("a", cdc.OpCreate, "1", 1, 0, nil)))
		assert.Empty(t, a.Add(event("b", cdc.OpCreate, "1", 2, 0, nil)))
		done := a.Add(event("c", cdc.OpUpdate, "2", 1, 0, nil))
		require.Len(t, done, 1)
		assert.Equal(t, []string{"a", "b"}, done[0].Tables())

		last, ok := a.Flush()
		require.True(t, ok)
		assert.Equal(t, "2", last.ID)
		assert.Equal(t, Update, last.Operations[0].Kind)
	})

	t.Run("events without transaction id", func(t *testing.T) {
		a := NewAssembler(nil)
		assert.Empty(t, a.Add(event("a", cdc.OpCreate, "1", 1, 0, nil)))
		done := a.Add(event("b", cdc.OpDelete, "", 0, 0, nil))
		require.Len(t, done, 2)
		assert.Equal(t, "1", done[0].ID)
		assert.NotEmpty(t, done[1].ID)
		assert.Equal(t, []string{"b"}, done[1].Tables())
	})

	t.Run("drops truncates", func(t *testing.T) {
		a := NewAssembler(nil)
		a.Add(event("a", cdc.OpTruncate, "1", 1, 0, nil))
		_, ok := a.Flush()
		assert.False(t, ok)
	})
}

func TestAssemblerRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan cdc.Event, 10)
	out := NewAssembler(nil).Run(ctx, events, 50*time.Millisecond)

	events <- event("a", cdc.OpCreate, "1", 1, 0, nil)
	events <- event("b", cdc.OpCreate, "1", 2, 0, nil)

	select {
	case transaction := <-out:
		assert.Equal(t, []string{"a", "b"}, transaction.Tables())
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for idle flush")
	}

	events <- event("c", cdc.OpCreate, "2", 1, 0, nil)
	close(events)

	transaction, ok := <-out
	require.True(t, ok)
	assert.Equal(t, "2", transaction.ID)

	_, ok = <-out
	assert.False(t, ok)
}
