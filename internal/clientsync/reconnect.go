package clientsync

import (
	"sync"

	"github.com/cenkalti/backoff"

	"syncdoc/internal/ot"
)

// Dialer re-establishes a transport connection and rejoins a document,
// returning the fresh Joined snapshot. Implemented by the transport layer;
// a *websocket.Conn dial plus a join frame round-trip in production.
type Dialer interface {
	Dial() (clientID ot.ClientID, baseServerSeq uint64, doc string, err error)
}

// Reconnector drives bounded-backoff reconnection for a ClientSync: on
// transport loss, retry with bounded backoff; on rejoin, discard
// base_server_seq and the outbox and adopt the new snapshot. Local edits
// not yet acknowledged at the time of loss are dropped; they are not
// re-issued against the new base.
type Reconnector struct {
	mu         sync.Mutex
	dialer     Dialer
	sender     Sender
	discipline SendDiscipline
	backOff    backoff.BackOff
}

// NewReconnector wraps dialer with backoff.NewExponentialBackOff's default
// policy: the per-step wait is capped by its MaxInterval and the total
// retry time by its MaxElapsedTime, after which Reconnect gives up.
func NewReconnector(dialer Dialer, sender Sender, discipline SendDiscipline) *Reconnector {
	b := backoff.NewExponentialBackOff()
	return &Reconnector{dialer: dialer, sender: sender, discipline: discipline, backOff: b}
}

// Reconnect retries Dial until it succeeds, then returns a brand-new
// ClientSync built from the fresh snapshot. The caller is responsible for
// discarding its old ClientSync — Reconnect never mutates one in place,
// since the old outbox is defined to be thrown away, not merged.
func (r *Reconnector) Reconnect() (*ClientSync, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backOff.Reset()

	var cs *ClientSync
	op := func() error {
		clientID, baseServerSeq, doc, err := r.dialer.Dial()
		if err != nil {
			return err
		}
		cs = New(clientID, baseServerSeq, doc, r.sender, r.discipline)
		return nil
	}
	if err := backoff.Retry(op, r.backOff); err != nil {
		return nil, err
	}
	return cs, nil
}
