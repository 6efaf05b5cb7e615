package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kentomson01/stacksbet/internal/model"
)

// Amounts are in micro-units, prices in sats.
const (
	amountPlaces int32 = 6
	pricePlaces  int32 = 8
)

func amount(v uint64) string { return model.FormatUnits(v, amountPlaces) }
func price(v uint64) string  { return model.FormatUnits(v, pricePlaces) }

// ── Views ────────────────────────────────────────────

type marketView struct {
	model.Market
	Status         model.MarketStatus `json:"status"`
	TotalPool      uint64             `json:"total_pool"`
	WinningSide    model.Direction    `json:"winning_direction,omitempty"`
	ReferenceLabel string             `json:"reference_price_display"`
	FinalLabel     string             `json:"final_price_display,omitempty"`
	UpLabel        string             `json:"total_up_display"`
	DownLabel      string             `json:"total_down_display"`
	PoolLabel      string             `json:"total_pool_display"`
}

func (s *Server) viewMarket(m model.Market) marketView {
	v := marketView{
		Market:         m,
		Status:         m.Status(s.eng.Height()),
		TotalPool:      m.TotalPool(),
		ReferenceLabel: price(m.ReferencePrice),
		UpLabel:        amount(m.TotalUp),
		DownLabel:      amount(m.TotalDown),
		PoolLabel:      amount(m.TotalPool()),
	}
	if d, ok := m.WinningDirection(); ok {
		v.WinningSide = d
	}
	if m.FinalPrice != nil {
		v.FinalLabel = price(*m.FinalPrice)
	}
	return v
}

func (s *Server) viewMarkets(ms []model.Market) []marketView {
	out := make([]marketView, 0, len(ms))
	for _, m := range ms {
		out = append(out, s.viewMarket(m))
	}
	return out
}

type predictionView struct {
	model.Prediction
	AmountLabel string `json:"amount_display"`
	PayoutLabel string `json:"payout_display"`
}

func newPredictionView(p model.Prediction) predictionView {
	return predictionView{Prediction: p, AmountLabel: amount(p.Amount), PayoutLabel: amount(p.Payout)}
}

// ── Reads ────────────────────────────────────────────

func (s *Server) getHeight(w http.ResponseWriter, r *http.Request) {
	json200(w, map[string]uint64{"height": s.eng.Height()})
}

func (s *Server) getPlatformStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.eng.PlatformStats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	json200(w, map[string]any{
		"stats":                  st,
		"total_volume_display":   amount(st.TotalVolume),
		"fees_collected_display": amount(st.FeesCollected),
		"escrow_balance_display": amount(st.EscrowBalance),
		"minimum_stake_display":  amount(st.MinimumStake),
	})
}

func (s *Server) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	json200(w, s.eng.Leaderboard(limitParam(r, 10, 100)))
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	json200(w, s.viewMarkets(s.eng.Markets()))
}

func (s *Server) listAwaiting(w http.ResponseWriter, r *http.Request) {
	json200(w, s.viewMarkets(s.eng.AwaitingResolution()))
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	m, err := s.eng.Market(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	json200(w, s.viewMarket(m))
}

func (s *Server) getMarketStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	st, err := s.eng.MarketStatus(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	json200(w, st)
}

func (s *Server) getPrediction(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	p, err := s.eng.Prediction(id, chi.URLParam(r, "participant"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	json200(w, newPredictionView(p))
}

func (s *Server) getPotentialWinnings(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	participant := chi.URLParam(r, "participant")
	v, err := s.eng.PotentialWinnings(id, participant)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	json200(w, map[string]any{
		"market_id":                  id,
		"participant":                participant,
		"potential_winnings":         v,
		"potential_winnings_display": amount(v),
	})
}

func (s *Server) getParticipantStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.eng.ParticipantStats(chi.URLParam(r, "participant"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	json200(w, st)
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	who := caller(r)
	bal, err := s.wallets.Balance(r.Context(), who)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	json200(w, map[string]any{"account": who, "balance": bal, "balance_display": amount(bal)})
}

// ── Predictions ──────────────────────────────────────

func (s *Server) makePrediction(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	var req model.PredictionReq
	if !decode(w, r, &req) {
		return
	}
	who := caller(r)
	if err := s.eng.MakePrediction(r.Context(), who, id, req); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.eng.Prediction(id, who)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	json200(w, newPredictionView(p))
}

func (s *Server) claimWinnings(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	res, err := s.eng.ClaimWinnings(r.Context(), caller(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	json200(w, map[string]any{
		"claim":              res,
		"net_payout_display": amount(res.NetPayout),
		"fee_display":        amount(res.Fee),
	})
}

// ── Admin ────────────────────────────────────────────

func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	var req model.CreateMarketReq
	if !decode(w, r, &req) {
		return
	}
	id, err := s.eng.CreateMarket(r.Context(), caller(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.eng.Market(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	json200(w, s.viewMarket(m))
}

func (s *Server) resolveMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	var req model.ResolveReq
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.ResolveMarket(r.Context(), caller(r), id, req.FinalPrice); err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.eng.Market(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	json200(w, s.viewMarket(m))
}

func (s *Server) updateOracle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Oracle string `json:"oracle"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.UpdateOracle(r.Context(), caller(r), req.Oracle); err != nil {
		s.fail(w, r, err)
		return
	}
	json200(w, s.eng.Config())
}

func (s *Server) updateMinimumStake(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.UpdateMinimumStake(r.Context(), caller(r), req.Amount); err != nil {
		s.fail(w, r, err)
		return
	}
	json200(w, s.eng.Config())
}

func (s *Server) updateFeeRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FeeRateBps uint64 `json:"fee_rate_bps"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.UpdatePlatformFee(r.Context(), caller(r), req.FeeRateBps); err != nil {
		s.fail(w, r, err)
		return
	}
	json200(w, s.eng.Config())
}

func (s *Server) withdrawFees(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.WithdrawPlatformFees(r.Context(), caller(r), req.Amount); err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("fees withdrawn", zap.Uint64("amount", req.Amount))
	json200(w, map[string]any{"withdrawn": req.Amount, "withdrawn_display": amount(req.Amount)})
}

func (s *Server) adminDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
		Amount  uint64 `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Account == s.eng.Config().Escrow {
		s.fail(w, r, model.ErrInvalidParameter)
		return
	}
	bal, err := s.wallets.Deposit(r.Context(), req.Account, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("deposit", zap.String("account", req.Account), zap.Uint64("amount", req.Amount))
	json200(w, map[string]any{"account": req.Account, "balance": bal, "balance_display": amount(bal)})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	var filter *uint64
	if raw := r.URL.Query().Get("market_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "invalid market_id")
			return
		}
		filter = &id
	}
	events, err := s.wallets.ListEvents(r.Context(), filter, limitParam(r, 100, 1000))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	json200(w, events)
}
