// Package session implements the authoritative per-document server state:
// rope-backed text, monotonic sequencing, an append-only operation log, and
// the connected-client roster, per spec §4.4.
package session

import (
	"sync"

	"syncdoc/internal/ot"
	"syncdoc/internal/rope"
)

// ClientSink is how a DocumentSession pushes frames to a connected client
// without knowing anything about the transport. Enqueue must not block; it
// returns false if the client's outbound queue overflowed, at which point
// the session treats the client as gone (§5 backpressure policy: disconnect
// the slow client rather than buffer unboundedly).
type ClientSink interface {
	Enqueue(frame interface{}) bool
	Close()
}

// ClientInfo is the roster projection sent in a Joined frame and broadcast
// join notifications: spec §6's `{id,name,color,...}`.
type ClientInfo struct {
	ClientID ot.ClientID `json:"clientId"`
	Name     string      `json:"name"`
	Color    string      `json:"color"`
}

type rosterEntry struct {
	info             ClientInfo
	sink             ClientSink
	lastAckClientSeq uint64
	joinOrder        uint64
}

// JoinedSnapshot is returned by Join: the atomically captured base state a
// new client builds its ClientSync from.
type JoinedSnapshot struct {
	ClientID  ot.ClientID
	ServerSeq uint64
	Doc       string
	Roster    []ClientInfo
}

// Frame types pushed to ClientSink.Enqueue. The transport layer decides how
// to marshal these to wire JSON (spec §6).
type (
	JoinNotification struct {
		ClientID ot.ClientID
		Name     string
		Color    string
	}
	OpBroadcast struct {
		Op ot.ServerOperation
	}
	AckFrame struct {
		ClientSeq uint64
		ServerSeq uint64
	}
	CursorFrame struct {
		ClientID ot.ClientID
		Payload  interface{}
	}
	DisconnectFrame struct {
		ClientID ot.ClientID
	}
)

// DocumentSession is the authoritative state for one document. All
// mutation happens under mu: a single-writer critical section covering
// rope mutation, sequence advance, log append, and roster changes, per
// spec §5.
type DocumentSession struct {
	mu sync.Mutex

	docID     string
	rope      *rope.Rope
	serverSeq uint64
	ops       []ot.ServerOperation
	clients   map[ot.ClientID]*rosterEntry
	nextJoin  uint64
	audit     AuditSink

	mintClientID func() ot.ClientID

	// OnEmpty is invoked (outside mu) the moment the roster becomes empty,
	// so the registry can reclaim this session. Set by the registry.
	OnEmpty func()
}

// New creates a DocumentSession for docID with initial text. mintID mints a
// fresh opaque client id when Join is called without one; production code
// wires this to google/uuid (see internal/transport).
func New(docID, initialText string, mintID func() ot.ClientID, audit AuditSink) *DocumentSession {
	if audit == nil {
		audit = NoopAuditSink{}
	}
	return &DocumentSession{
		docID:        docID,
		rope:         rope.New(initialText),
		clients:      make(map[ot.ClientID]*rosterEntry),
		mintClientID: mintID,
		audit:        audit,
	}
}

// Join registers a new client and returns the atomically captured base
// snapshot. If clientID is empty, a fresh id is minted. A join
// notification is pushed to every other connected client.
func (s *DocumentSession) Join(clientID ot.ClientID, name string) JoinedSnapshot {
	s.mu.Lock()
	if clientID == "" {
		clientID = s.mintClientID()
	}
	color := colorForSeq(s.nextJoin)
	s.nextJoin++

	entry := &rosterEntry{
		info:      ClientInfo{ClientID: clientID, Name: name, Color: color},
		joinOrder: s.nextJoin,
	}
	s.clients[clientID] = entry

	snapshot := JoinedSnapshot{
		ClientID:  clientID,
		ServerSeq: s.serverSeq,
		Doc:       s.rope.String(),
		Roster:    s.rosterSnapshotLocked(),
	}
	notify := JoinNotification{ClientID: clientID, Name: name, Color: color}
	s.broadcastExceptLocked(clientID, notify)
	s.mu.Unlock()

	s.audit.RecordJoin(s.docID, clientID, name)
	return snapshot
}

// AttachSink binds the transport-owned outbound queue for clientID after
// Join. Until a sink is attached, frames addressed to clientID are
// dropped.
func (s *DocumentSession) AttachSink(clientID ot.ClientID, sink ClientSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.clients[clientID]; ok {
		entry.sink = sink
	}
}

func (s *DocumentSession) rosterSnapshotLocked() []ClientInfo {
	out := make([]ClientInfo, 0, len(s.clients))
	for _, e := range s.clients {
		out = append(out, e.info)
	}
	return out
}

// Apply validates, clamps, and applies op, then acks the originator and
// broadcasts the stamped ServerOperation to everyone else. Per §4.4's
// ordering guarantee, validate→mutate→log-append→stamp is one critical
// section; network sends are enqueued inside the same lock (Enqueue itself
// never blocks) but their actual I/O happens on the transport's own
// goroutines, outside this function entirely.
func (s *DocumentSession) Apply(clientID ot.ClientID, op ot.Operation) (ot.ServerOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[clientID]; !ok {
		return ot.ServerOperation{}, ErrUnknownClient
	}

	clamped := s.clampLocked(op)
	if err := s.applyToRopeLocked(clamped); err != nil {
		return ot.ServerOperation{}, err
	}

	s.serverSeq++
	stamped := ot.ServerOperation{Operation: clamped, ServerSeq: s.serverSeq}
	s.ops = append(s.ops, stamped)

	if entry := s.clients[clientID]; entry != nil {
		entry.lastAckClientSeq = op.ClientSeq
		s.enqueueLocked(entry, AckFrame{ClientSeq: op.ClientSeq, ServerSeq: s.serverSeq})
	}
	s.broadcastExceptLocked(clientID, OpBroadcast{Op: stamped})

	return stamped, nil
}

// clampLocked implements §7's InvalidPosition policy: clamp pos/len into
// bounds rather than reject, so a stale client never needs to resync just
// because the document moved under it.
func (s *DocumentSession) clampLocked(op ot.Operation) ot.Operation {
	length := s.rope.Len()
	switch op.Kind {
	case ot.Insert:
		if op.Pos < 0 {
			op.Pos = 0
		} else if op.Pos > length {
			op.Pos = length
		}
	case ot.Delete:
		if op.Pos < 0 {
			op.Pos = 0
		}
		if op.Pos > length {
			op.Pos = length
		}
		maxLen := length - op.Pos
		if op.Len > maxLen {
			op.Len = maxLen
		}
		if op.Len < 0 {
			op.Len = 0
		}
	}
	return op
}

func (s *DocumentSession) applyToRopeLocked(op ot.Operation) error {
	switch op.Kind {
	case ot.Insert:
		if err := s.rope.Insert(op.Pos, op.Text); err != nil {
			return ErrRopeFailure
		}
	case ot.Delete:
		if err := s.rope.Delete(op.Pos, op.Len); err != nil {
			return ErrRopeFailure
		}
	}
	return nil
}

// Cursor is an opaque pass-through fan-out; the session never inspects or
// transforms the payload (spec §4.4).
func (s *DocumentSession) Cursor(clientID ot.ClientID, payload interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastExceptLocked(clientID, CursorFrame{ClientID: clientID, Payload: payload})
}

// Disconnect removes clientID from the roster and broadcasts a disconnect
// notification to the remaining clients. If the roster empties, OnEmpty is
// invoked after releasing the lock so the registry can reclaim the
// session without risking a deadlock against the registry's own lock.
func (s *DocumentSession) Disconnect(clientID ot.ClientID) {
	s.mu.Lock()
	_, existed := s.clients[clientID]
	delete(s.clients, clientID)
	empty := len(s.clients) == 0
	if existed {
		s.broadcastExceptLocked(clientID, DisconnectFrame{ClientID: clientID})
	}
	s.mu.Unlock()

	if existed {
		s.audit.RecordDisconnect(s.docID, clientID)
	}
	if empty {
		s.audit.RecordReclaim(s.docID)
		if s.OnEmpty != nil {
			s.OnEmpty()
		}
	}
}

// enqueueLocked pushes frame to entry's sink. A full queue means a slow
// consumer: the sink is closed here rather than buffered further, and the
// client leaves the roster when the transport then calls Disconnect.
func (s *DocumentSession) enqueueLocked(entry *rosterEntry, frame interface{}) {
	if entry.sink == nil {
		return
	}
	if !entry.sink.Enqueue(frame) {
		entry.sink.Close()
	}
}

func (s *DocumentSession) broadcastExceptLocked(except ot.ClientID, frame interface{}) {
	for id, entry := range s.clients {
		if id == except {
			continue
		}
		s.enqueueLocked(entry, frame)
	}
}

// ServerSeq returns the current sequence counter (for tests and
// introspection endpoints).
func (s *DocumentSession) ServerSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverSeq
}

// Snapshot returns the current document text.
func (s *DocumentSession) Snapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rope.String()
}

// Ops returns a copy of the operation log (tests only; production code
// should not need the full log).
func (s *DocumentSession) Ops() []ot.ServerOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ot.ServerOperation, len(s.ops))
	copy(out, s.ops)
	return out
}

// RosterSize reports how many clients are currently connected.
func (s *DocumentSession) RosterSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// MinBaseServerSeq would return the lowest base_server_seq over all
// connected clients, i.e. the log-truncation floor a real retention policy
// needs. The server does not track per-client base_server_seq — clients
// own that per §3 — so there is nothing to minimize over; this returns the
// current serverSeq, which keeps the entire log "live" and is the
// documented decision not to guess a retention policy (spec §9).
func (s *DocumentSession) MinBaseServerSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverSeq
}
