package engine

import (
	"sort"

	"github.com/kentomson01/stacksbet/internal/model"
)

// StatsTracker aggregates lifetime counters per participant.
// WinRateBps is carried but never recomputed here.
type StatsTracker struct {
	byParticipant map[string]*model.ParticipantStats
}

func NewStatsTracker() *StatsTracker {
	return &StatsTracker{byParticipant: make(map[string]*model.ParticipantStats)}
}

func (s *StatsTracker) OnStakePlaced(participant string, amount uint64) {
	st := s.entry(participant)
	st.TotalPredictions++
	st.TotalStaked += amount
}

func (s *StatsTracker) OnPayoutClaimed(participant string, amount uint64) {
	s.entry(participant).TotalWon += amount
}

func (s *StatsTracker) Get(participant string) (model.ParticipantStats, bool) {
	st, ok := s.byParticipant[participant]
	if !ok {
		return model.ParticipantStats{}, false
	}
	return *st, true
}

// Leaderboard returns participants ordered by total won, then by handle.
func (s *StatsTracker) Leaderboard(limit int) []model.ParticipantStats {
	out := make([]model.ParticipantStats, 0, len(s.byParticipant))
	for _, st := range s.byParticipant {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalWon != out[j].TotalWon {
			return out[i].TotalWon > out[j].TotalWon
		}
		return out[i].Participant < out[j].Participant
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *StatsTracker) entry(participant string) *model.ParticipantStats {
	st, ok := s.byParticipant[participant]
	if !ok {
		st = &model.ParticipantStats{Participant: participant}
		s.byParticipant[participant] = st
	}
	return st
}
