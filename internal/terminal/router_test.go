package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRouterFanOutIsScopedToSession(t *testing.T) {
	r := NewRouter(NewRegistry(), zap.NewNop())
	a, b, other := newRecorder(), newRecorder(), newRecorder()

	r.Subscribe(1, a.handle)
	r.Subscribe(1, b.handle)
	r.Subscribe(2, other.handle)

	r.Publish(Envelope{Kind: KindData, SessionID: 1, Payload: DataPayload{Data: []byte("x")}})

	assert.Len(t, a.snapshot(), 1)
	assert.Len(t, b.snapshot(), 1)
	assert.Empty(t, other.snapshot())
}

func TestSubscriptionClose(t *testing.T) {
	r := NewRouter(NewRegistry(), zap.NewNop())
	rec := newRecorder()

	sub := r.Subscribe(7, rec.handle)
	assert.Equal(t, ID(7), sub.SessionID())
	assert.Equal(t, 1, r.Subscribers(7))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, r.Subscribers(7))

	r.Publish(Envelope{Kind: KindExit, SessionID: 7, Payload: ExitInfo{}})
	assert.Empty(t, rec.snapshot())

	var nilSub *Subscription
	assert.NotPanics(t, nilSub.Close)
}

func TestSubscriptionCloseFromHandler(t *testing.T) {
	r := NewRouter(NewRegistry(), zap.NewNop())
	calls := 0

	var sub *Subscription
	sub = r.Subscribe(1, func(Envelope) {
		calls++
		sub.Close()
	})
	later := newRecorder()
	r.Subscribe(1, later.handle)

	r.Publish(Envelope{Kind: KindData, SessionID: 1, Payload: DataPayload{}})
	r.Publish(Envelope{Kind: KindData, SessionID: 1, Payload: DataPayload{}})

	assert.Equal(t, 1, calls)
	assert.Len(t, later.snapshot(), 2, "other subscribers are unaffected")
}

func TestRouterReleaseDropsSessionSubscriptions(t *testing.T) {
	r := NewRouter(NewRegistry(), zap.NewNop())
	rec := newRecorder()
	sub := r.Subscribe(3, rec.handle)

	r.release(3)
	assert.Equal(t, 0, r.Subscribers(3))

	// closing after release is harmless
	sub.Close()
	assert.Equal(t, 0, r.Subscribers(3))
}
