package server

import (
	"context"
	"sync"
)

// ChannelMessage is one broadcast envelope traveling through the hub. The
// payload is the sender's JSON envelope verbatim; the hub relays, it does
// not interpret.
type ChannelMessage struct {
	ScriptID string
	SenderID int64
	Payload  []byte
}

// ScriptHub fans broadcast envelopes out to every other connection watching
// the same script. Sends are non-blocking: a subscriber that cannot keep up
// drops messages rather than stalling the sender. The next persisted save
// converges every viewer regardless.
type ScriptHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*hubSubscriber
	nextID      int64
	bufferSize  int
}

type hubSubscriber struct {
	id     int64
	stream chan ChannelMessage
}

func NewScriptHub() *ScriptHub {
	return &ScriptHub{
		subscribers: make(map[string]map[int64]*hubSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a connection on a script and returns its identity, its
// message stream, and a cleanup func. The subscription also ends when ctx is
// cancelled.
func (h *ScriptHub) Subscribe(ctx context.Context, scriptID string) (int64, <-chan ChannelMessage, func()) {
	if scriptID == "" {
		stream := make(chan ChannelMessage)
		close(stream)
		return 0, stream, func() {}
	}
	subscriber := &hubSubscriber{
		id:     h.nextSequence(),
		stream: make(chan ChannelMessage, h.bufferSize),
	}
	h.registerSubscriber(scriptID, subscriber)
	cleanup := func() {
		h.unregisterSubscriber(scriptID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.id, subscriber.stream, cleanup
}

// Publish relays an envelope to every subscriber on the script except the
// sender itself.
func (h *ScriptHub) Publish(message ChannelMessage) {
	if message.ScriptID == "" || len(message.Payload) == 0 {
		return
	}
	h.mu.RLock()
	subscribers := h.subscribers[message.ScriptID]
	if len(subscribers) == 0 {
		h.mu.RUnlock()
		return
	}
	copies := make([]*hubSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		if subscriber.id == message.SenderID {
			continue
		}
		copies = append(copies, subscriber)
	}
	h.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// Subscribers reports the current connection count on a script.
func (h *ScriptHub) Subscribers(scriptID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[scriptID])
}

func (h *ScriptHub) nextSequence() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return h.nextID
}

func (h *ScriptHub) registerSubscriber(scriptID string, subscriber *hubSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[scriptID]; !ok {
		h.subscribers[scriptID] = make(map[int64]*hubSubscriber)
	}
	h.subscribers[scriptID][subscriber.id] = subscriber
}

func (h *ScriptHub) unregisterSubscriber(scriptID string, subscriberID int64) {
	h.mu.Lock()
	subscribers := h.subscribers[scriptID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(h.subscribers, scriptID)
		}
	}
	h.mu.Unlock()
}
