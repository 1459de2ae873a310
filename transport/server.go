package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/bfte-project/bfte/consensus"
)

// Server exposes a Source over HTTP via the three pull endpoints of §4.4.
// There is deliberately no endpoint that accepts a pushed vote, proposal, or
// notarization — every message enters a peer's state through one of its own
// outbound pulls, never through an inbound POST.
type Server struct {
	source Source
	router *mux.Router
}

// NewServer builds a Server backed by source, with routes registered.
func NewServer(source Source) *Server {
	s := &Server{source: source, router: mux.NewRouter()}
	s.router.HandleFunc("/v1/rounds/{round:[0-9]+}/proposal-or-votes", s.handleProposalOrVotes).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/rounds/{round:[0-9]+}/notarized-since", s.handleNotarizedSince).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/finalization-votes", s.handleFinalizationVotes).Methods(http.MethodGet)
	return s
}

// ServeHTTP makes Server an http.Handler, so it can be wrapped by a driver's
// own middleware (request logging, TLS termination) before being passed to
// http.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// proposalOrVotesResponse is the GetProposalOrVotes wire body. Block is
// omitted when the peer doesn't hold the proposal itself, matching the "may
// know votes before the proposal" case handled by engine.tryNotarize.
type proposalOrVotesResponse struct {
	Block *consensus.Block `json:"block,omitempty"`
	Votes []consensus.Vote `json:"votes"`
}

func (s *Server) handleProposalOrVotes(w http.ResponseWriter, r *http.Request) {
	round, err := parseRound(mux.Vars(r)["round"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	block, votes, found := s.source.ProposalOrVotes(round)
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, proposalOrVotesResponse{Block: block, Votes: votes})
}

func (s *Server) handleNotarizedSince(w http.ResponseWriter, r *http.Request) {
	round, err := parseRound(mux.Vars(r)["round"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	items := s.source.NotarizedSince(round)
	if items == nil {
		items = []NotarizedItem{}
	}
	writeJSON(w, items)
}

func (s *Server) handleFinalizationVotes(w http.ResponseWriter, r *http.Request) {
	votes := s.source.FinalizationVotes()
	if votes == nil {
		votes = []consensus.FinalizationVote{}
	}
	writeJSON(w, votes)
}

func parseRound(raw string) (consensus.Round, error) {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("transport: invalid round %q: %w", raw, err)
	}
	return consensus.Round(n), nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
