package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/lobby-matchmaker/internal/lobby"
	"github.com/DoyleJ11/lobby-matchmaker/internal/store"
)

func memoryFactory(ctx context.Context, code string) (*lobby.Lobby, error) {
	return lobby.NewLobby(ctx, store.NewMemory(), lobby.Options{Code: code})
}

func TestHub_Create_Get_SamePointer(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, memoryFactory, zaptest.NewLogger(t))
	defer func() { h.Inbox() <- ShutdownHub{} }()
	reply := make(chan *lobby.Lobby, 1)

	h.Inbox() <- CreateLobby{Code: "ZED123", Reply: reply}
	lb1 := <-reply

	h.Inbox() <- GetLobby{Code: "ZED123", Reply: reply}
	lb2 := <-reply

	if lb1 == nil || lb2 == nil || lb1 != lb2 {
		t.Fatalf("expected same lobby pointer")
	}
	assert.Equal(t, "ZED123", lb1.Code())
}

func TestHub_CreateRefusesTakenCode(t *testing.T) {
	h := NewHub(context.Background(), memoryFactory, zaptest.NewLogger(t))
	defer func() { h.Inbox() <- ShutdownHub{} }()

	ctx := context.Background()
	first := h.Create(ctx, "MAIN")
	require.NotNil(t, first)
	assert.Nil(t, h.Create(ctx, "MAIN"))
	assert.Same(t, first, h.Ensure(ctx, "MAIN"))
}

func TestHub_FactoryErrorYieldsNil(t *testing.T) {
	failing := func(context.Context, string) (*lobby.Lobby, error) { return nil, errors.New("db down") }
	h := NewHub(context.Background(), failing, zaptest.NewLogger(t))
	defer func() { h.Inbox() <- ShutdownHub{} }()

	assert.Nil(t, h.Ensure(context.Background(), "MAIN"))
	assert.Empty(t, h.List(context.Background()))
}

func TestHub_RemoveAndList(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, memoryFactory, zaptest.NewLogger(t))
	defer func() { h.Inbox() <- ShutdownHub{} }()

	lb := h.Ensure(ctx, "B")
	require.NotNil(t, lb)
	require.NotNil(t, h.Ensure(ctx, "A"))
	assert.Equal(t, []string{"A", "B"}, h.List(ctx))

	h.Inbox() <- RemoveLobby{Code: "B"}
	assert.Nil(t, h.Lookup(ctx, "B"))
	assert.Equal(t, []string{"A"}, h.List(ctx))

	select {
	case <-lb.Done():
	case <-time.After(time.Second):
		t.Fatalf("removed lobby did not stop")
	}
}

func TestHub_ShutdownStopsLobbies(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, memoryFactory, zaptest.NewLogger(t))
	lb := h.Ensure(ctx, "MAIN")
	require.NotNil(t, lb)

	h.Inbox() <- ShutdownHub{}

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatalf("hub did not stop")
	}
	select {
	case <-lb.Done():
	default:
		t.Fatalf("lobby still running after hub shutdown")
	}
	assert.Nil(t, h.Lookup(ctx, "MAIN"))
}
