package transport

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBus relays already-encoded frames between server processes sharing
// a document, implementing Broadcaster: one Redis channel per docID,
// publishing only what DocumentSession already decided to broadcast. It
// assumes something upstream (a load balancer, a consistent-hash router)
// pins a given docID to a single owning process — RedisBus itself performs
// no leader election or ownership handoff, so two processes independently
// calling Registry.GetOrCreate for the same docID would still mutate two
// unsynchronized DocumentSessions. What RedisBus does guarantee is that a
// process never re-delivers its own publish to its own locally-attached
// clients: those already received the frame via DocumentSession's
// in-process broadcast, so every outgoing frame carries this process's id
// and Subscribe drops anything tagged with its own id rather than handing
// it to handler a second time.
type RedisBus struct {
	rdb       *redis.Client
	ctx       context.Context
	processID string
}

// busEnvelope wraps a frame with the id of the process that published it,
// so a process's own Subscribe loop can recognize and skip its own
// publishes instead of redelivering them to already-notified local
// clients.
type busEnvelope struct {
	Origin string          `json:"origin"`
	Frame  json.RawMessage `json:"frame"`
}

// NewRedisBus wraps an existing *redis.Client. ctx bounds the lifetime of
// all Subscribe/Publish calls issued through this bus; callers typically
// pass context.Background() and rely on process shutdown to tear it down.
func NewRedisBus(rdb *redis.Client, ctx context.Context) *RedisBus {
	return &RedisBus{rdb: rdb, ctx: ctx, processID: uuid.NewString()}
}

// Publish fans raw out to every other process subscribed to docID's
// channel, tagged with this process's id so its own subscribers ignore it.
func (b *RedisBus) Publish(docID string, raw []byte) {
	env, err := json.Marshal(busEnvelope{Origin: b.processID, Frame: raw})
	if err != nil {
		log.Printf("transport: redis publish encode failed for doc %s: %v", docID, err)
		return
	}
	if err := b.rdb.Publish(b.ctx, docID, env).Err(); err != nil {
		log.Printf("transport: redis publish failed for doc %s: %v", docID, err)
	}
}

// Subscribe starts relaying messages published to docID's channel to
// handler until the returned unsubscribe func is called: one subscription
// per connected client rather than one per process, since each websocket
// connection needs its own delivery goroutine. Messages this same process
// published are dropped rather than handed to handler, since the client
// that originated them was already notified by DocumentSession's
// in-process broadcast.
func (b *RedisBus) Subscribe(docID string, handler func(raw []byte)) func() {
	sub := b.rdb.Subscribe(b.ctx, docID)
	ch := sub.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env busEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.Printf("transport: redis relay decode failed for doc %s: %v", docID, err)
					continue
				}
				if env.Origin == b.processID {
					continue
				}
				handler([]byte(env.Frame))
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		sub.Close()
	}
}
