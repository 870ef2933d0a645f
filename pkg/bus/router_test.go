package bus_test

import (
	"sync"
	"testing"

	"github.com/codesynq/collab.go/internal/codec"
	"github.com/codesynq/collab.go/pkg/bus"
	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(t *testing.T, c codec.Marshaler, event protocol.Event, payload any) protocol.Envelope {
	t.Helper()
	raw, err := c.Marshal(payload)
	require.NoError(t, err)
	return protocol.Envelope{Event: event, Payload: raw}
}

func TestRouterAttachDetach(t *testing.T) {
	c := codec.NewCBOR()
	r := bus.NewRouter(nil)

	var got []string
	b, err := r.Attach(map[protocol.Event]bus.Handler{
		protocol.CodeUpdated: bus.Handle(c, nil, func(p protocol.CodeUpdatedPayload) {
			got = append(got, p.Code)
		}),
		protocol.UserLeft: func(protocol.Envelope) {},
	})
	require.NoError(t, err)
	assert.True(t, b.Active())

	assert.True(t, r.Dispatch(envelope(t, c, protocol.CodeUpdated, protocol.CodeUpdatedPayload{Code: "a"})))
	assert.Equal(t, []string{"a"}, got)

	b.Detach()
	b.Detach()
	assert.False(t, b.Active())
	assert.False(t, r.Bound(protocol.CodeUpdated))
	assert.False(t, r.Bound(protocol.UserLeft))
	assert.False(t, r.Dispatch(envelope(t, c, protocol.CodeUpdated, protocol.CodeUpdatedPayload{Code: "b"})))
	assert.Equal(t, []string{"a"}, got)
}

func TestRouterAttachIsAtomic(t *testing.T) {
	r := bus.NewRouter(nil)
	noop := func(protocol.Envelope) {}

	first, err := r.Attach(map[protocol.Event]bus.Handler{protocol.UserJoined: noop})
	require.NoError(t, err)

	_, err = r.Attach(map[protocol.Event]bus.Handler{
		protocol.UserJoined: noop,
		protocol.SyncError:  noop,
	})
	require.ErrorIs(t, err, constants.ErrEventBound)
	assert.False(t, r.Bound(protocol.SyncError), "a failed attach must not leave partial handlers")

	first.Detach()
	_, err = r.Attach(map[protocol.Event]bus.Handler{protocol.UserJoined: noop})
	require.NoError(t, err)
}

func TestRouterStaleDetachKeepsNewBinding(t *testing.T) {
	r := bus.NewRouter(nil)
	calls := 0

	old, err := r.Attach(map[protocol.Event]bus.Handler{protocol.UserJoined: func(protocol.Envelope) {}})
	require.NoError(t, err)
	old.Detach()

	_, err = r.Attach(map[protocol.Event]bus.Handler{protocol.UserJoined: func(protocol.Envelope) { calls++ }})
	require.NoError(t, err)

	old.Detach()
	r.Dispatch(protocol.Envelope{Event: protocol.UserJoined})
	assert.Equal(t, 1, calls)
}

func TestRouterRepeatedCycles(t *testing.T) {
	c := codec.NewCBOR()
	r := bus.NewRouter(nil)
	calls := 0

	for i := 0; i < 10; i++ {
		b, err := r.Attach(map[protocol.Event]bus.Handler{
			protocol.CodeUpdated: bus.Handle(c, nil, func(protocol.CodeUpdatedPayload) { calls++ }),
		})
		require.NoError(t, err)
		r.Dispatch(envelope(t, c, protocol.CodeUpdated, protocol.CodeUpdatedPayload{}))
		b.Detach()
	}
	assert.Equal(t, 10, calls, "each cycle must deliver exactly once")
}

func TestHandleDropsMalformed(t *testing.T) {
	c := codec.NewCBOR()
	called := false
	h := bus.Handle(c, nil, func(protocol.CodeUpdatedPayload) { called = true })

	h(protocol.Envelope{Event: protocol.CodeUpdated, Payload: []byte{0xff}})
	assert.False(t, called)
}

func TestRouterHandlerMayDetach(t *testing.T) {
	r := bus.NewRouter(nil)
	var b *bus.Binding
	var err error
	b, err = r.Attach(map[protocol.Event]bus.Handler{
		protocol.UserLeft: func(protocol.Envelope) { b.Detach() },
	})
	require.NoError(t, err)

	assert.True(t, r.Dispatch(protocol.Envelope{Event: protocol.UserLeft}))
	assert.False(t, r.Bound(protocol.UserLeft))
}

func TestRouterConcurrentDispatch(t *testing.T) {
	r := bus.NewRouter(nil)
	var mu sync.Mutex
	count := 0
	_, err := r.Attach(map[protocol.Event]bus.Handler{
		protocol.UserJoined: func(protocol.Envelope) {
			mu.Lock()
			count++
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Dispatch(protocol.Envelope{Event: protocol.UserJoined})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, count)
}
