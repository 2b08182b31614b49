package events

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := NewBroker()
	a := b.Subscribe(4)
	c := b.Subscribe(4)
	b.Publish(OperationStarted{Name: "update"})

	for _, s := range []*Subscription{a, c} {
		m := <-s.C
		started, ok := m.(OperationStarted)
		require.True(t, ok, "unexpected type %T", m)
		assert.Equal(t, "update", started.Name)
	}
	assert.EqualValues(t, 2, b.Delivered())
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroker()
	slow := b.Subscribe(1)
	fast := b.Subscribe(8)
	for i := 0; i < 5; i++ {
		b.Publish(Notice{Level: "info", Text: "x"})
	}
	assert.Len(t, fast.C, 5)
	assert.Len(t, slow.C, 1)
	assert.EqualValues(t, 4, b.Dropped())
}

func TestCloseSubscription(t *testing.T) {
	b := NewBroker()
	s := b.Subscribe(1)
	s.Close()
	s.Close()
	_, open := <-s.C
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers())
	b.Publish(Notice{Text: "after"})
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker()
	s := b.Subscribe(1)
	b.Close()
	_, open := <-s.C
	assert.False(t, open)
	late := b.Subscribe(1)
	_, open = <-late.C
	assert.False(t, open, "subscribing to a closed broker yields a closed channel")
	b.Publish(Notice{Text: "ignored"})
	s.Close()
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := NewBroker()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		s := b.Subscribe(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(OutputLine{Raw: "x"})
			}
		}()
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
	b.Close()
}

func TestEnvelopeJSON(t *testing.T) {
	raw, err := json.Marshal(Wrap(OperationFinished{Name: "install", OK: false, Summary: "exit 1"}))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "finished", got["kind"])
	data := got["data"].(map[string]any)
	assert.Equal(t, "install", data["name"])
	assert.Equal(t, false, data["ok"])
}

func TestQueuedSubscriberKeepsEveryMessage(t *testing.T) {
	b := NewBroker()
	q := b.SubscribeQueued()
	lossy := b.Subscribe(1)
	const n = 50000
	for i := 0; i < n; i++ {
		b.Publish(OutputLine{Raw: "line\n"})
	}
	q.Finish()

	got := 0
	for range q.C {
		got++
	}
	assert.Equal(t, n, got)
	assert.Len(t, lossy.C, 1)
	assert.EqualValues(t, n-1, b.Dropped())
	assert.Equal(t, 1, b.Subscribers())
}

func TestQueuedSubscriberClose(t *testing.T) {
	b := NewBroker()
	q := b.SubscribeQueued()
	b.Publish(Notice{Text: "a"})
	b.Publish(Notice{Text: "b"})
	q.Close()
	q.Close()
	for range q.C {
	}
	assert.Equal(t, 0, b.Subscribers())
	b.Publish(Notice{Text: "after"})
}

func TestQueuedSubscriberEndsWithBroker(t *testing.T) {
	b := NewBroker()
	q := b.SubscribeQueued()
	b.Publish(Notice{Text: "kept"})
	b.Close()
	m, ok := <-q.C
	require.True(t, ok)
	assert.Equal(t, "kept", m.(Notice).Text)
	_, ok = <-q.C
	assert.False(t, ok)

	late := b.SubscribeQueued()
	_, ok = <-late.C
	assert.False(t, ok)
}
