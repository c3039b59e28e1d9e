package history

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/xt/internal/proxy"
)

func TestObject_UpdateAndGet(t *testing.T) {
	h := New(NewMemoryKV())
	ns := proxy.NewNamespace(map[string]proxy.Object{"history": h.Object()}, nil)

	got := ns.Handle(context.Background(), json.RawMessage(`{"root":"history","name":"update","args":["ag","foo"]}`))
	assert.Nil(t, got)
	assert.Equal(t, []string{"foo"}, h.Get("ag"))

	got = ns.Handle(context.Background(), json.RawMessage(`{"root":"history","name":"get","args":["ag"]}`))
	assert.Equal(t, []string{"foo"}, got)
}

func TestObject_Clear(t *testing.T) {
	h := New(NewMemoryKV())
	require.NoError(t, h.Update("open", "a"))
	ns := proxy.NewNamespace(map[string]proxy.Object{"history": h.Object()}, nil)

	ns.Handle(context.Background(), json.RawMessage(`{"root":"history","name":"clear","args":["open"]}`))
	assert.Empty(t, h.Get("open"))
}

func TestObject_BadArgumentIsErrorMarker(t *testing.T) {
	h := New(NewMemoryKV())
	ns := proxy.NewNamespace(map[string]proxy.Object{"history": h.Object()}, nil)

	got := ns.Handle(context.Background(), json.RawMessage(`{"root":"history","name":"update","args":["ag"]}`))
	_, _, ok := proxy.IsError(got)
	assert.True(t, ok)
}

func TestObject_Limit(t *testing.T) {
	h := New(NewMemoryKV(), WithLimit(5))
	ns := proxy.NewNamespace(map[string]proxy.Object{"history": h.Object()}, nil)

	assert.Equal(t, 5, ns.Handle(context.Background(), json.RawMessage(`{"root":"history","name":"limit"}`)))
}
