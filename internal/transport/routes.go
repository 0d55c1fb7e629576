package transport

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires Server's websocket endpoint alongside health and
// introspection routes via gorilla/mux, which also carries §9's debug
// surface (registry introspection) alongside the websocket upgrade.
func NewRouter(srv *Server) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", srv.ServeHTTP)
	r.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/debug/sessions", srv.handleDebugSessions).Methods(http.MethodGet)
	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// debugSessionsResponse is the /debug/sessions introspection payload: a
// snapshot of live document ids and their roster sizes, for operators, not
// for any client in the collaboration protocol itself.
type debugSessionsResponse struct {
	Documents []debugDocument `json:"documents"`
}

type debugDocument struct {
	DocID      string `json:"docId"`
	ServerSeq  uint64 `json:"serverSeq"`
	RosterSize int    `json:"rosterSize"`
}

func (srv *Server) handleDebugSessions(w http.ResponseWriter, r *http.Request) {
	ids := srv.registry.DocIDs()
	resp := debugSessionsResponse{Documents: make([]debugDocument, 0, len(ids))}
	for _, id := range ids {
		doc := srv.registry.GetOrCreate(id)
		resp.Documents = append(resp.Documents, debugDocument{
			DocID:      id,
			ServerSeq:  doc.ServerSeq(),
			RosterSize: doc.RosterSize(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
