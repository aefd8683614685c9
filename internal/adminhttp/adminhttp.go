// Package adminhttp exposes the rendezvous server's operational surface:
// prometheus metrics and a pair-table dump, routed with gorilla/mux the way
// the teacher's internal/api server wires its handlers.
package adminhttp

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omnicloud/p2psession/internal/signaling"
)

// Server is the admin/metrics HTTP surface for a rendezvous deployment.
type Server struct {
	router *mux.Router
	table  *signaling.PairTable
}

func NewServer(table *signaling.PairTable) *Server {
	s := &Server{router: mux.NewRouter(), table: table}
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/pairs", s.handlePairs).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

type pairView struct {
	LocalID   string `json:"local_id"`
	RemoteID  string `json:"remote_id"`
	Pointer   string `json:"pointer"`
	SessionID uint64 `json:"session_id"`
}

func (s *Server) handlePairs(w http.ResponseWriter, r *http.Request) {
	entries := s.table.Snapshot()
	views := make([]pairView, len(entries))
	for i, e := range entries {
		views[i] = pairView{
			LocalID:   e.LocalID,
			RemoteID:  e.RemoteID,
			Pointer:   pointerString(e.Pointer),
			SessionID: signaling.SessionIDWire(e.SessionID),
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"size":  s.table.Size(),
		"pairs": views,
	})
}

func pointerString(p signaling.PeerPointer) string {
	switch p {
	case signaling.Linked:
		return "linked"
	case signaling.Dangling:
		return "dangling"
	default:
		return "unpaired"
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
