package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
)

// boardEntry is one row of the leaderboard view.
type boardEntry struct {
	Rank   int    `json:"rank"`
	Name   string `json:"name"`
	Points int    `json:"points"`
	Avatar string `json:"avatar"`
	IsUser bool   `json:"is_user,omitempty"`
}

// staticBoard is the fixed display board the user's live points are merged
// into. Ranking real users against each other is out of scope; this endpoint
// is display only.
var staticBoard = []boardEntry{
	{Name: "Sarah Green", Points: 450, Avatar: "🌱"},
	{Name: "Mike Earth", Points: 380, Avatar: "🌍"},
	{Name: "Emma Eco", Points: 220, Avatar: "♻️"},
	{Name: "John Leaf", Points: 180, Avatar: "🍃"},
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	snapshot := s.ledger.Load(r.Context(), userID)

	board := make([]boardEntry, 0, len(staticBoard)+1)
	board = append(board, staticBoard...)
	board = append(board, boardEntry{
		Name:   "You",
		Points: snapshot.TotalPoints,
		Avatar: "⭐",
		IsUser: true,
	})

	sort.SliceStable(board, func(i, j int) bool { return board[i].Points > board[j].Points })
	for i := range board {
		board[i].Rank = i + 1
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": board})
}
