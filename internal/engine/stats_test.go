package engine

import "testing"

func TestStatsTracker(t *testing.T) {
	s := NewStatsTracker()
	if _, ok := s.Get("alice"); ok {
		t.Fatal("stats exist before first stake")
	}

	s.OnStakePlaced("alice", 10)
	s.OnStakePlaced("alice", 5)
	s.OnStakePlaced("bob", 7)
	s.OnStakePlaced("carol", 3)
	s.OnPayoutClaimed("bob", 20)
	s.OnPayoutClaimed("carol", 20)

	st, ok := s.Get("alice")
	if !ok || st.TotalPredictions != 2 || st.TotalStaked != 15 || st.TotalWon != 0 {
		t.Fatalf("alice = %+v", st)
	}

	board := s.Leaderboard(2)
	if len(board) != 2 || board[0].Participant != "bob" || board[1].Participant != "carol" {
		t.Fatalf("leaderboard = %+v", board)
	}
	if all := s.Leaderboard(0); len(all) != 3 || all[2].Participant != "alice" {
		t.Fatalf("full leaderboard = %+v", all)
	}
}
