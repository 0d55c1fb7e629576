// Command client is a terminal demo of the wire protocol: it dials a
// running syncdoc server, joins a document, prints every converged state
// change, and lets the user queue local edits from stdin. Inbound frames
// are read on one goroutine (readLoop) while stdin commands are handled on
// the main one (inputLoop); outgoing ops are written directly by wsSender.
// It is an outbound dialer rather than a hub serving inbound connections.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"syncdoc/internal/clientsync"
	"syncdoc/internal/config"
	"syncdoc/internal/ot"
	"syncdoc/internal/transport"
)

// wsSender implements clientsync.Sender by marshaling each locally-produced
// Operation to the wire shape and writing it over conn.
type wsSender struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	docID string
}

func (s *wsSender) SendOp(op ot.Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(struct {
		Type      string           `json:"type"`
		DocID     string           `json:"docId"`
		Operation transport.WireOp `json:"operation"`
	}{Type: transport.TypeOp, DocID: s.docID, Operation: transport.ToWireOperation(op)})
	if err != nil {
		log.Printf("client: failed to encode op: %v", err)
		return
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		log.Printf("client: failed to send op: %v", err)
	}
}

func main() {
	cfg := config.LoadClient()

	conn, _, err := websocket.DefaultDialer.Dial(cfg.ServerURL, nil)
	if err != nil {
		log.Fatalf("client: dial failed: %v", err)
	}
	defer conn.Close()

	joinFrame, err := json.Marshal(struct {
		Type       string `json:"type"`
		DocID      string `json:"docId"`
		ClientName string `json:"clientName"`
	}{Type: transport.TypeJoin, DocID: cfg.DocID, ClientName: cfg.ClientName})
	if err != nil {
		log.Fatalf("client: failed to encode join: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, joinFrame); err != nil {
		log.Fatalf("client: failed to send join: %v", err)
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		log.Fatalf("client: failed to read joined reply: %v", err)
	}
	var joined transport.ServerJoined
	if err := json.Unmarshal(raw, &joined); err != nil {
		log.Fatalf("client: failed to decode joined reply: %v", err)
	}

	sender := &wsSender{conn: conn, docID: cfg.DocID}
	cs := clientsync.New(ot.ClientID(joined.ClientID), joined.Seq, joined.Doc, sender, clientsync.Strict)
	fmt.Printf("joined %q as %s; current text: %q\n", cfg.DocID, joined.ClientID, joined.Doc)

	go readLoop(conn, cs)
	inputLoop(cs)
}

// readLoop dispatches every inbound frame to the ClientSync, decoding a
// typed wire frame instead of forwarding raw bytes through a hub.
func readLoop(conn *websocket.Conn, cs *clientsync.ClientSync) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Printf("client: connection closed: %v", err)
			return
		}
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}
		switch env.Type {
		case transport.TypeOp:
			var frame transport.ServerOp
			if err := json.Unmarshal(msg, &frame); err != nil {
				continue
			}
			op, err := transport.FromWireOperation(frame.Operation)
			if err != nil {
				continue
			}
			if err := cs.InboundOp(ot.ServerOperation{Operation: op, ServerSeq: frame.ServerSeq}); err != nil {
				log.Printf("client: failed to apply inbound op: %v", err)
				continue
			}
			fmt.Printf("\r[sync] %q\n> ", cs.Text())
		case transport.TypeAck:
			var frame transport.ServerAck
			if err := json.Unmarshal(msg, &frame); err != nil {
				continue
			}
			cs.Ack(frame.ClientSeq)
		case transport.TypeError:
			var frame transport.ServerErrorFrame
			if err := json.Unmarshal(msg, &frame); err != nil {
				continue
			}
			log.Printf("client: server error: %s", frame.Message)
		}
	}
}

// inputLoop reads "i POS TEXT" / "d POS LEN" commands from stdin.
func inputLoop(cs *clientsync.ClientSync) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		fields := strings.SplitN(strings.TrimSpace(scanner.Text()), " ", 3)
		if len(fields) == 0 || fields[0] == "" {
			fmt.Print("> ")
			continue
		}
		switch fields[0] {
		case "i":
			if len(fields) != 3 {
				fmt.Println("usage: i POS TEXT")
				break
			}
			pos, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("bad position:", err)
				break
			}
			if _, err := cs.LocalInsert(pos, fields[2]); err != nil {
				fmt.Println("insert failed:", err)
			}
		case "d":
			if len(fields) != 3 {
				fmt.Println("usage: d POS LEN")
				break
			}
			pos, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("bad position:", err)
				break
			}
			length, err := strconv.Atoi(fields[2])
			if err != nil {
				fmt.Println("bad length:", err)
				break
			}
			if _, err := cs.LocalDelete(pos, length); err != nil {
				fmt.Println("delete failed:", err)
			}
		default:
			fmt.Println("unknown command; use 'i POS TEXT' or 'd POS LEN'")
		}
		fmt.Println(cs.Text())
		fmt.Print("> ")
	}
}
