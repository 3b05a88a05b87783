package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"perkledger/native/common"
	"perkledger/native/discount"
	"perkledger/native/identity"
	"perkledger/native/settlement"
	"perkledger/observability"
)

// swapWindowSeconds sizes the volume-guard window for HTTP-submitted swaps:
// every trade inside the same hour shares one window marker.
const swapWindowSeconds = 3_600

type profileView struct {
	ID                uint64 `json:"id"`
	Owner             string `json:"owner"`
	TotalVolume       string `json:"totalVolume"`
	Tier              uint8  `json:"tier"`
	BadgeCount        uint32 `json:"badgeCount"`
	SwapCount         uint64 `json:"swapCount"`
	SocialPoints      uint64 `json:"socialPoints"`
	ActivityStreak    uint32 `json:"activityStreak"`
	LastActivityUnix  uint64 `json:"lastActivityUnix"`
	AffiliateEarnings string `json:"affiliateEarnings"`
}

type poolView struct {
	ID                   string `json:"id"`
	Creator              string `json:"creator"`
	AssetA               string `json:"assetA"`
	AssetB               string `json:"assetB"`
	ReserveA             string `json:"reserveA"`
	ReserveB             string `json:"reserveB"`
	DiscountBps          uint32 `json:"discountBps"`
	MinTradeSize         string `json:"minTradeSize"`
	MaxDiscountPerTrade  string `json:"maxDiscountPerTrade"`
	TotalVolumeGenerated string `json:"totalVolumeGenerated"`
	ExpiryUnix           uint64 `json:"expiryUnix"`
	CooldownSeconds      uint64 `json:"cooldownSeconds"`
	ReserveBacked        bool   `json:"reserveBacked"`
	Active               bool   `json:"active"`
}

type affiliateView struct {
	ID              string `json:"id"`
	Affiliate       string `json:"affiliate"`
	Project         string `json:"project"`
	Asset           string `json:"asset"`
	DiscountBps     uint32 `json:"discountBps"`
	CommissionBps   uint32 `json:"commissionBps"`
	Remaining       string `json:"remaining"`
	VolumeGenerated string `json:"volumeGenerated"`
	ExpiryUnix      uint64 `json:"expiryUnix"`
	Active          bool   `json:"active"`
	Verified        bool   `json:"verified"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(chi.URLParam(r, "owner"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid owner address")
		return
	}
	profile, found, err := s.identities.ProfileByOwner(owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, newProfileView(profile))
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	assetA := r.URL.Query().Get("assetA")
	assetB := r.URL.Query().Get("assetB")
	if assetA == "" || assetB == "" {
		writeError(w, http.StatusBadRequest, "assetA and assetB query parameters required")
		return
	}
	ids, err := s.pools.ListByPair(assetA, assetB)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	now := s.nowFunc()
	views := make([]poolView, 0, len(ids))
	for _, id := range ids {
		pool, found := s.pools.PoolByID(id)
		if !found || !pool.Active || pool.Expired(now) {
			continue
		}
		views = append(views, newPoolView(pool))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePoolID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}
	pool, found := s.pools.PoolByID(id)
	if !found {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(pool))
}

func (s *Server) handleAffiliates(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		writeError(w, http.StatusBadRequest, "asset query parameter required")
		return
	}
	ids, err := s.affiliates.ListByAsset(asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	now := s.nowFunc()
	views := make([]affiliateView, 0, len(ids))
	for _, id := range ids {
		affiliate, found := s.affiliates.AffiliateByID(id)
		if !found || !affiliate.Active || affiliate.Expired(now) {
			continue
		}
		views = append(views, newAffiliateView(affiliate))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handlePendingReward(w http.ResponseWriter, r *http.Request) {
	poolID, err := strconv.ParseUint(chi.URLParam(r, "pool"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pool id")
		return
	}
	owner, ok := parseAddress(chi.URLParam(r, "owner"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid owner address")
		return
	}
	pending, err := s.farm.PendingReward(uint32(poolID), owner, s.nowFunc())
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pending": pending.String()})
}

type swapSubmission struct {
	Caller       string   `json:"caller"`
	AssetIn      string   `json:"assetIn"`
	AssetOut     string   `json:"assetOut"`
	AmountIn     string   `json:"amountIn"`
	MinAmountOut string   `json:"minAmountOut"`
	PoolIDs      []string `json:"poolIds"`
	AffiliateID  string   `json:"affiliateId"`
}

type swapView struct {
	TraceID      string `json:"traceId"`
	RawAmountOut string `json:"rawAmountOut"`
	Discount     string `json:"discount"`
	AmountOut    string `json:"amountOut"`
	Clipped      bool   `json:"clipped"`
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	if s.settle == nil {
		writeError(w, http.StatusServiceUnavailable, "settlement not available")
		return
	}
	var body swapSubmission
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, ok := parseAddress(body.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	amountIn, ok := parseAmount(body.AmountIn)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amountIn")
		return
	}
	req := settlement.SwapRequest{
		Caller:   caller,
		AssetIn:  body.AssetIn,
		AssetOut: body.AssetOut,
		AmountIn: amountIn,
	}
	if body.MinAmountOut != "" {
		minOut, ok := parseAmount(body.MinAmountOut)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid minAmountOut")
			return
		}
		req.MinAmountOut = minOut
	}
	for _, raw := range body.PoolIDs {
		id, ok := parsePoolID(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid pool id")
			return
		}
		req.PoolIDs = append(req.PoolIDs, id)
	}
	if body.AffiliateID != "" {
		id, ok := parseAffiliateID(body.AffiliateID)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid affiliate id")
			return
		}
		req.AffiliateID = &id
	}

	now := s.nowFunc()
	start := time.Now()
	res, err := s.settle.Swap(req, now/swapWindowSeconds, now)
	observability.Metrics().SettlementSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.Metrics().TradesRejected.WithLabelValues(rejectReason(err)).Inc()
		writeError(w, swapStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, swapView{
		TraceID:      res.TraceID,
		RawAmountOut: bigString(res.RawAmountOut),
		Discount:     bigString(res.Discount),
		AmountOut:    bigString(res.AmountOut),
		Clipped:      res.Clipped,
	})
}

// rejectReason buckets a settlement error into the rejection counter's reason
// label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, settlement.ErrSameAsset):
		return "same_asset"
	case errors.Is(err, settlement.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, settlement.ErrTooManyPools):
		return "too_many_pools"
	case errors.Is(err, settlement.ErrDuplicatePool):
		return "duplicate_pool"
	case errors.Is(err, settlement.ErrAssetDenied):
		return "asset_denied"
	case errors.Is(err, settlement.ErrProfileRequired):
		return "profile_required"
	case errors.Is(err, common.ErrWindowVolumeExceeded):
		return "window_exceeded"
	case errors.Is(err, settlement.ErrSlippage):
		return "slippage"
	case errors.Is(err, settlement.ErrExchangeFailure):
		return "exchange_failure"
	case errors.Is(err, settlement.ErrTransferFailure):
		return "transfer_failure"
	case errors.Is(err, common.ErrModulePaused):
		return "paused"
	case errors.Is(err, common.ErrReentrantCall):
		return "reentrant"
	default:
		return "other"
	}
}

func swapStatus(err error) int {
	switch {
	case errors.Is(err, settlement.ErrExchangeFailure), errors.Is(err, settlement.ErrTransferFailure):
		return http.StatusBadGateway
	case errors.Is(err, common.ErrModulePaused), errors.Is(err, common.ErrReentrantCall):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrWindowVolumeExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}

func parseAmount(value string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, false
	}
	return amount, true
}

func parseAffiliateID(value string) (discount.AffiliateID, bool) {
	var id discount.AffiliateID
	value = strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != len(id) {
		return id, false
	}
	copy(id[:], raw)
	return id, true
}

func newProfileView(p *identity.Profile) profileView {
	return profileView{
		ID:                p.ID,
		Owner:             hexAddress(p.Owner),
		TotalVolume:       bigString(p.TotalVolume),
		Tier:              p.Tier,
		BadgeCount:        p.BadgeCount,
		SwapCount:         p.SwapCount,
		SocialPoints:      p.SocialPoints,
		ActivityStreak:    p.ActivityStreak,
		LastActivityUnix:  p.LastActivityUnix,
		AffiliateEarnings: bigString(p.AffiliateEarnings),
	}
}

func newPoolView(p *discount.Pool) poolView {
	return poolView{
		ID:                   hex.EncodeToString(p.ID[:]),
		Creator:              hexAddress(p.Creator),
		AssetA:               p.AssetA,
		AssetB:               p.AssetB,
		ReserveA:             bigString(p.ReserveA),
		ReserveB:             bigString(p.ReserveB),
		DiscountBps:          p.DiscountBps,
		MinTradeSize:         bigString(p.MinTradeSize),
		MaxDiscountPerTrade:  bigString(p.MaxDiscountPerTrade),
		TotalVolumeGenerated: bigString(p.TotalVolumeGenerated),
		ExpiryUnix:           p.ExpiryUnix,
		CooldownSeconds:      p.CooldownSeconds,
		ReserveBacked:        p.ReserveBacked,
		Active:               p.Active,
	}
}

func newAffiliateView(a *discount.Affiliate) affiliateView {
	return affiliateView{
		ID:              hex.EncodeToString(a.ID[:]),
		Affiliate:       hexAddress(a.Affiliate),
		Project:         hexAddress(a.Project),
		Asset:           a.Asset,
		DiscountBps:     a.DiscountBps,
		CommissionBps:   a.CommissionBps,
		Remaining:       bigString(a.Remaining),
		VolumeGenerated: bigString(a.VolumeGenerated),
		ExpiryUnix:      a.ExpiryUnix,
		Active:          a.Active,
		Verified:        a.Verified,
	}
}

func parseAddress(value string) ([20]byte, bool) {
	var addr [20]byte
	value = strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != 20 {
		return addr, false
	}
	copy(addr[:], raw)
	return addr, true
}

func parsePoolID(value string) (discount.PoolID, bool) {
	var id discount.PoolID
	value = strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != len(id) {
		return id, false
	}
	copy(id[:], raw)
	return id, true
}

func hexAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
