package transport

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"syncdoc/internal/ot"
	"syncdoc/internal/session"
)

const (
	// writeWait is the per-message write deadline (spec §5 "Cancellation
	// and timeouts").
	writeWait = 10 * time.Second
	// idleReadWait is how long a connection may stay silent before it is
	// treated as dead.
	idleReadWait = 90 * time.Second
	// pingPeriod keeps idleReadWait honest by pinging well before it
	// would otherwise expire, the standard gorilla/websocket keepalive
	// idiom.
	pingPeriod = (idleReadWait * 9) / 10
	// outboundQueueSize bounds each client's outbound channel; overflow
	// triggers the slow-consumer disconnect policy of §5.
	outboundQueueSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server owns the document registry and upgrades incoming HTTP connections
// to websockets, dispatching each connection to the registry-backed
// multi-document model of §9 rather than a single hardcoded docId.
type Server struct {
	registry *session.Registry
	bus      Broadcaster
}

// Broadcaster relays already-stamped frames between server processes that
// share a document, so clients attached to different processes still see
// each other's ops. The in-process default never needs this; RedisBus
// implements it for horizontally scaled deployments (see redisbus.go).
type Broadcaster interface {
	Publish(docID string, raw []byte)
	Subscribe(docID string, handler func(raw []byte)) (unsubscribe func())
}

// NewServer creates a Server backed by registry. bus may be nil, meaning
// broadcast never leaves this process.
func NewServer(registry *session.Registry, bus Broadcaster) *Server {
	return &Server{registry: registry, bus: bus}
}

// mintClientID is the default client-id minting function, backed by
// google/uuid.
func mintClientID() ot.ClientID {
	return ot.ClientID(uuid.NewString())
}

// NewRegistry is a convenience wrapper around session.NewRegistry that
// supplies the uuid-backed id minter; a nil audit sink falls back to
// NoopAuditSink inside session.New.
func NewRegistry(audit session.AuditSink) *session.Registry {
	return session.NewRegistry(mintClientID, audit)
}

// connSink adapts a *websocket.Conn's writer goroutine to session.ClientSink.
// Close terminates the underlying connection directly: readPump's next
// ReadMessage and writePump's next WriteMessage both then fail and return,
// which is simpler than threading a second shutdown channel through both
// pumps.
type connSink struct {
	send chan []byte
	conn *websocket.Conn
	once sync.Once
}

func newConnSink(conn *websocket.Conn) *connSink {
	return &connSink{send: make(chan []byte, outboundQueueSize), conn: conn}
}

func (c *connSink) Enqueue(frame interface{}) bool {
	raw, err := encodeFrameFor(frame)
	if err != nil {
		log.Printf("transport: failed to encode frame %T: %v", frame, err)
		return true // don't punish the client for a server bug
	}
	return c.enqueueRaw(raw)
}

func (c *connSink) enqueueRaw(raw []byte) bool {
	select {
	case c.send <- raw:
		return true
	default:
		return false
	}
}

// Close disconnects the slow-consumer connection. Safe to call more than
// once (overflow detection and readPump's own exit path can both reach it).
func (c *connSink) Close() {
	c.once.Do(func() { c.conn.Close() })
}

// encodeFrameFor maps session.go's internal Frame types to their wire
// shape and marshals them.
func encodeFrameFor(frame interface{}) ([]byte, error) {
	switch f := frame.(type) {
	case session.JoinNotification:
		return encodeFrame(ServerJoinNotice{
			Type:       TypeJoin,
			ClientID:   string(f.ClientID),
			ClientName: f.Name,
			Color:      f.Color,
		})
	case session.OpBroadcast:
		return encodeFrame(ServerOp{
			Type:      TypeOp,
			Operation: ToWireOperation(f.Op.Operation),
			ServerSeq: f.Op.ServerSeq,
		})
	case session.AckFrame:
		return encodeFrame(ServerAck{
			Type:      TypeAck,
			ClientSeq: f.ClientSeq,
			ServerSeq: f.ServerSeq,
		})
	case session.CursorFrame:
		raw, _ := json.Marshal(f.Payload)
		return marshalCursor(string(f.ClientID), raw)
	case session.DisconnectFrame:
		return encodeFrame(ServerDisconnect{Type: TypeDisconnect, ClientID: string(f.ClientID)})
	default:
		return encodeFrame(frame)
	}
}

// ServeHTTP upgrades the connection and runs its read/write pumps until the
// client disconnects.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("transport: upgrade failed: %v", err)
		return
	}
	c := &clientConn{conn: conn, sink: newConnSink(conn), srv: srv}
	c.run()
}

// clientConn is one connected client's side of the protocol: which
// document it's joined, which session owns that document, and the sink
// the session broadcasts through.
type clientConn struct {
	conn     *websocket.Conn
	sink     *connSink
	srv      *Server
	doc      *session.DocumentSession
	docID    string
	clientID ot.ClientID
	unsub    func()
}

func (c *clientConn) run() {
	go c.writePump()
	c.readPump()
	c.sink.Close()

	if c.unsub != nil {
		c.unsub()
	}
	if c.doc != nil && c.clientID != "" {
		c.doc.Disconnect(c.clientID)
	}
}

func (c *clientConn) readPump() {
	c.conn.SetReadDeadline(time.Now().Add(idleReadWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(idleReadWait))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(idleReadWait))
		c.handleMessage(msg)
	}
}

func (c *clientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case raw := <-c.sink.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *clientConn) handleMessage(msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		c.sendError("malformed frame")
		return
	}
	switch env.Type {
	case TypeJoin:
		c.handleJoin(msg)
	case TypeOp:
		c.handleOp(msg)
	case TypeCursor:
		c.handleCursor(msg)
	default:
		c.sendError("unknown frame type")
	}
}

func (c *clientConn) handleJoin(msg []byte) {
	var j ClientJoin
	if err := json.Unmarshal(msg, &j); err != nil || j.DocID == "" {
		c.sendError("malformed join frame")
		return
	}
	doc := c.srv.registry.GetOrCreate(j.DocID)
	snap := doc.Join(ot.ClientID(j.ClientID), j.ClientName)

	c.doc = doc
	c.docID = j.DocID
	c.clientID = snap.ClientID
	doc.AttachSink(snap.ClientID, c.sink)

	raw, err := encodeFrame(ServerJoined{
		Type:     TypeJoined,
		ClientID: string(snap.ClientID),
		Seq:      snap.ServerSeq,
		Doc:      snap.Doc,
		Clients:  snap.Roster,
	})
	if err != nil {
		log.Printf("transport: failed to encode joined frame: %v", err)
		return
	}
	c.sink.enqueueRaw(raw)

	if c.srv.bus != nil {
		c.unsub = c.srv.bus.Subscribe(j.DocID, func(relayed []byte) {
			c.sink.enqueueRaw(relayed)
		})
	}
}

func (c *clientConn) handleOp(msg []byte) {
	if c.doc == nil {
		c.sendError("not joined to a document")
		return
	}
	var frame ClientOp
	if err := json.Unmarshal(msg, &frame); err != nil {
		c.sendError("malformed op frame")
		return
	}
	op, err := FromWireOperation(frame.Operation)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	stamped, err := c.doc.Apply(c.clientID, op)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	if c.srv.bus != nil {
		raw, _ := encodeFrame(ServerOp{Type: TypeOp, Operation: ToWireOperation(stamped.Operation), ServerSeq: stamped.ServerSeq})
		c.srv.bus.Publish(c.docID, raw)
	}
}

func (c *clientConn) handleCursor(msg []byte) {
	if c.doc == nil {
		c.sendError("not joined to a document")
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		c.sendError("malformed cursor frame")
		return
	}
	c.doc.Cursor(c.clientID, fields)
}

func (c *clientConn) sendError(message string) {
	raw, err := encodeFrame(ServerErrorFrame{Type: TypeError, Message: message})
	if err != nil {
		return
	}
	c.sink.enqueueRaw(raw)
}
