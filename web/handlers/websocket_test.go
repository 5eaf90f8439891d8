package handlers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningHub(t *testing.T) *ActivityHub {
	t.Helper()
	hub := NewActivityHub()
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func TestActivityHubBroadcast(t *testing.T) {
	hub := newRunningHub(t)

	client := &MockClient{SendChan: make(chan []byte, 8)}
	hub.Register(client)

	hub.Broadcast(map[string]interface{}{"type": "item_captured", "payload": "milk"})

	select {
	case data := <-client.SendChan:
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "item_captured", msg["type"])
		assert.Equal(t, "milk", msg["payload"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestActivityHubDisconnectsSlowClient(t *testing.T) {
	hub := newRunningHub(t)

	fast := &MockClient{SendChan: make(chan []byte, 8)}
	slow := &MockClient{SendChan: make(chan []byte)} // unbuffered, never drained
	hub.Register(fast)
	hub.Register(slow)

	hub.Broadcast(map[string]string{"type": "item_completed"})

	// The fast client receives; the slow one is dropped rather than
	// blocking the loop.
	select {
	case <-fast.SendChan:
	case <-time.After(2 * time.Second):
		t.Fatal("fast client never received the message")
	}

	select {
	case _, open := <-slow.SendChan:
		assert.False(t, open, "slow client channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("slow client channel was not closed")
	}
}

func TestActivityHubUnregister(t *testing.T) {
	hub := newRunningHub(t)

	client := &MockClient{SendChan: make(chan []byte, 8)}
	hub.Register(client)
	hub.Unregister(client)

	select {
	case _, open := <-client.SendChan:
		assert.False(t, open, "unregistered client channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("unregistered client channel was not closed")
	}

	// Broadcasting after removal must not panic or resurrect the client.
	hub.Broadcast(map[string]string{"type": "noop"})
}
