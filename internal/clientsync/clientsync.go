// Package clientsync implements the client-side protocol state machine of
// spec §4.5: an optimistic local buffer, an outbox of unacknowledged
// operations, inbound-op rebase, ack handling, and bounded-backoff
// reconnection.
package clientsync

import (
	"sync"

	"syncdoc/internal/ot"
	"syncdoc/internal/rope"
)

// Sender delivers a locally-produced Operation to the server. Implemented
// by the transport layer (a websocket connection in production, a fake in
// tests).
type Sender interface {
	SendOp(op ot.Operation)
}

// SendDiscipline selects how ClientSync paces outgoing ops, per §4.5's
// note that an implementation must pick one and document it.
type SendDiscipline int

const (
	// Strict sends one op at a time, queuing the rest until the prior op
	// is acknowledged. This is the discipline ClientSync uses by default:
	// simpler to reason about than pipelining, and sufficient for
	// correctness since every rebase still folds over the full outbox.
	Strict SendDiscipline = iota
	// Pipelined sends every op as it's produced, without waiting for
	// acks. The server tolerates both disciplines.
	Pipelined
)

// outboxEntry pairs an outbox operation with the Sender call that has (or
// hasn't) gone out yet, so Strict discipline can tell queued-but-unsent
// apart from sent-but-unacked.
type outboxEntry struct {
	op   ot.Operation
	sent bool
}

// ClientSync is one client's view of a single document.
type ClientSync struct {
	mu sync.Mutex

	clientID      ot.ClientID
	baseServerSeq uint64
	nextClientSeq uint64
	local         *rope.Rope
	outbox        []outboxEntry
	discipline    SendDiscipline
	sender        Sender
}

// New creates a ClientSync bound to the snapshot a Join reply carries:
// clientID, the server sequence the snapshot was taken at, and the
// document text itself.
func New(clientID ot.ClientID, baseServerSeq uint64, doc string, sender Sender, discipline SendDiscipline) *ClientSync {
	return &ClientSync{
		clientID:      clientID,
		baseServerSeq: baseServerSeq,
		local:         rope.New(doc),
		sender:        sender,
		discipline:    discipline,
	}
}

// ClientID returns this replica's id.
func (c *ClientSync) ClientID() ot.ClientID {
	return c.clientID
}

// Text returns the current local document contents.
func (c *ClientSync) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local.String()
}

// BaseServerSeq returns the highest server_seq this client has observed.
func (c *ClientSync) BaseServerSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseServerSeq
}

// OutboxLen reports how many locally-applied ops are still unacknowledged.
func (c *ClientSync) OutboxLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbox)
}

// LocalInsert performs an optimistic local insert: apply immediately,
// enqueue to the outbox, and send per the configured discipline.
func (c *ClientSync) LocalInsert(pos int, text string) (ot.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op := ot.InsertOp(pos, text, c.clientID, c.nextClientSeq)
	c.nextClientSeq++
	if err := c.local.Insert(pos, text); err != nil {
		return ot.Operation{}, err
	}
	c.enqueueLocked(op)
	return op, nil
}

// LocalDelete performs an optimistic local delete, mirroring LocalInsert.
func (c *ClientSync) LocalDelete(pos, length int) (ot.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op := ot.DeleteOp(pos, length, c.clientID, c.nextClientSeq)
	c.nextClientSeq++
	if err := c.local.Delete(pos, length); err != nil {
		return ot.Operation{}, err
	}
	c.enqueueLocked(op)
	return op, nil
}

func (c *ClientSync) enqueueLocked(op ot.Operation) {
	c.outbox = append(c.outbox, outboxEntry{op: op})
	switch c.discipline {
	case Pipelined:
		c.outbox[len(c.outbox)-1].sent = true
		c.sender.SendOp(op)
	case Strict:
		c.maybeSendNextLocked()
	}
}

// maybeSendNextLocked sends the oldest not-yet-sent outbox entry if no sent-
// but-unacked entry is currently outstanding.
func (c *ClientSync) maybeSendNextLocked() {
	for i := range c.outbox {
		if c.outbox[i].sent {
			return // an op is already in flight
		}
		c.outbox[i].sent = true
		c.sender.SendOp(c.outbox[i].op)
		return
	}
}

// InboundOp handles a ServerOperation broadcast from the session: rebases
// it against the outbox, applies the rebased op locally, and rewrites the
// outbox so that replaying it against the new base reproduces the same
// document the server has. This fuses §4.5 steps 2-4 into one pass: the
// accumulator starts as the inbound op and is threaded through each
// outbox entry in order, producing both that entry's rebased form and the
// next accumulator value.
func (c *ClientSync) InboundOp(s ot.ServerOperation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Client-side "ignore own op": even though this server excludes the
	// sender from broadcast (see DESIGN.md), a ClientSync must still
	// tolerate receiving its own op back, e.g. from a relay that doesn't
	// exclude the sender. The echo is not reapplied; it shows the server
	// has applied that op, so it and every earlier outbox entry are
	// dropped exactly as an Ack would drop them.
	if s.ClientID == c.clientID {
		i := 0
		for i < len(c.outbox) && c.outbox[i].op.ClientSeq <= s.ClientSeq {
			i++
		}
		c.outbox = c.outbox[i:]
		if c.discipline == Strict {
			c.maybeSendNextLocked()
		}
		c.baseServerSeq = s.ServerSeq
		return nil
	}

	acc := s.Operation
	for i := range c.outbox {
		l := c.outbox[i].op
		c.outbox[i].op = ot.Transform(l, acc)
		acc = ot.Transform(acc, l)
	}
	if err := applyToRope(c.local, acc); err != nil {
		return err
	}
	c.baseServerSeq = s.ServerSeq
	return nil
}

func applyToRope(r *rope.Rope, op ot.Operation) error {
	switch op.Kind {
	case ot.Insert:
		return r.Insert(op.Pos, op.Text)
	case ot.Delete:
		return r.Delete(op.Pos, op.Len)
	}
	return nil
}

// Ack handles an acknowledgement for clientSeq: every outbox entry with
// ClientSeq <= clientSeq is popped, and under Strict discipline the next
// queued entry (if any) is sent.
func (c *ClientSync) Ack(clientSeq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := 0
	for i < len(c.outbox) && c.outbox[i].op.ClientSeq <= clientSeq {
		i++
	}
	c.outbox = c.outbox[i:]
	if c.discipline == Strict {
		c.maybeSendNextLocked()
	}
}
