package discount

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"

	"perkledger/core/events"
)

func affiliateKey(id AffiliateID) []byte {
	return append([]byte("discount/affiliate/"), id[:]...)
}

func affiliateAssetKey(asset string) []byte {
	return []byte("discount/affiliate/asset/" + NormalizeAsset(asset))
}

func affiliateUsageKey(id AffiliateID, user [20]byte) []byte {
	key := append([]byte("discount/affiliate/usage/"), id[:]...)
	return append(key, user[:]...)
}

var affiliateSeqKey = []byte("discount/affiliate/seq")

// AffiliateRegistry manages persistence and retrieval of affiliate discounts
// together with their per-user usage meters.
type AffiliateRegistry struct {
	st      registryState
	emitter events.Emitter
}

// NewAffiliateRegistry creates a registry backed by the provided state
// manager.
func NewAffiliateRegistry(st registryState) *AffiliateRegistry {
	return &AffiliateRegistry{st: st, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used to broadcast affiliate
// updates.
func (r *AffiliateRegistry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// Create persists a new affiliate discount. The discount starts inactive and
// unverified; it activates on first funding and becomes usable once the
// project is verified.
func (r *AffiliateRegistry) Create(a *Affiliate) (AffiliateID, error) {
	if a == nil {
		return AffiliateID{}, ErrNilAffiliate
	}
	sanitized, err := sanitizeAffiliate(a)
	if err != nil {
		return AffiliateID{}, err
	}

	var seq uint64
	if _, err := r.st.KVGet(affiliateSeqKey, &seq); err != nil {
		return AffiliateID{}, err
	}
	seq++
	if err := r.st.KVPut(affiliateSeqKey, seq); err != nil {
		return AffiliateID{}, err
	}
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	preimage := make([]byte, 0, 64)
	preimage = append(preimage, sanitized.Affiliate[:]...)
	preimage = append(preimage, sanitized.Project[:]...)
	preimage = append(preimage, sanitized.Asset...)
	preimage = append(preimage, seqBuf[:]...)
	copy(sanitized.ID[:], crypto.Keccak256(preimage))

	exists, err := r.st.KVGet(affiliateKey(sanitized.ID), new(Affiliate))
	if err != nil {
		return AffiliateID{}, err
	}
	if exists {
		return AffiliateID{}, ErrAffiliateExists
	}
	if err := r.st.KVPut(affiliateKey(sanitized.ID), sanitized); err != nil {
		return AffiliateID{}, err
	}
	if err := r.st.KVAppend(affiliateAssetKey(sanitized.Asset), sanitized.ID[:]); err != nil {
		return AffiliateID{}, err
	}
	return sanitized.ID, nil
}

// Fund credits the discount balance and activates the discount. Funding an
// exhausted discount does not reactivate it.
func (r *AffiliateRegistry) Fund(id AffiliateID, funder [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidFunding
	}
	a, found := r.AffiliateByID(id)
	if !found {
		return fmt.Errorf("%w: %x", ErrAffiliateNotFound, id[:8])
	}
	if funder != a.Project && funder != a.Affiliate {
		return ErrUnauthorized
	}
	if a.Funded.Sign() > 0 && a.Remaining.Sign() == 0 {
		// Exhausted discounts stay dead.
		return fmt.Errorf("%w: affiliate %x exhausted", ErrInactive, id[:8])
	}
	a.Funded = new(big.Int).Add(a.Funded, amount)
	a.Remaining = new(big.Int).Add(a.Remaining, amount)
	a.Active = true
	return r.st.KVPut(affiliateKey(id), a)
}

// Verify marks the backing project as verified, making the discount eligible
// for settlement.
func (r *AffiliateRegistry) Verify(id AffiliateID) error {
	a, found := r.AffiliateByID(id)
	if !found {
		return fmt.Errorf("%w: %x", ErrAffiliateNotFound, id[:8])
	}
	a.Verified = true
	return r.st.KVPut(affiliateKey(id), a)
}

// AffiliateByID retrieves an affiliate discount copy by its identifier.
func (r *AffiliateRegistry) AffiliateByID(id AffiliateID) (*Affiliate, bool) {
	a := new(Affiliate)
	found, err := r.st.KVGet(affiliateKey(id), a)
	if err != nil || !found {
		return nil, false
	}
	return a.Normalize(), true
}

// ListByAsset returns the affiliate discount ids registered for the asset, in
// insertion order.
func (r *AffiliateRegistry) ListByAsset(asset string) ([]AffiliateID, error) {
	var raw [][]byte
	if err := r.st.KVGetList(affiliateAssetKey(asset), &raw); err != nil {
		return nil, err
	}
	ids := make([]AffiliateID, 0, len(raw))
	for _, b := range raw {
		var id AffiliateID
		copy(id[:], b)
		ids = append(ids, id)
	}
	return ids, nil
}

// UsageCount returns how many times the user consumed the discount.
func (r *AffiliateRegistry) UsageCount(id AffiliateID, user [20]byte) (uint32, error) {
	var count uint32
	if _, err := r.st.KVGet(affiliateUsageKey(id, user), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// RecordUsage settles a granted affiliate discount back against its balance:
// the remaining amount decreases, the user's usage counter advances and the
// discount deactivates permanently once the balance reaches zero.
func (r *AffiliateRegistry) RecordUsage(id AffiliateID, user [20]byte, amount, volume *big.Int) error {
	a, found := r.AffiliateByID(id)
	if !found {
		return fmt.Errorf("%w: %x", ErrAffiliateNotFound, id[:8])
	}
	if !a.Active {
		return fmt.Errorf("%w: affiliate %x", ErrInactive, id[:8])
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if a.Remaining.Cmp(amount) < 0 {
		return fmt.Errorf("%w: affiliate %x", ErrUsageExceedsRemaining, id[:8])
	}
	a.Remaining = new(big.Int).Sub(a.Remaining, amount)
	if volume != nil && volume.Sign() > 0 {
		a.VolumeGenerated = new(big.Int).Add(a.VolumeGenerated, volume)
	}
	if a.Remaining.Sign() == 0 {
		a.Active = false
	}
	if err := r.st.KVPut(affiliateKey(id), a); err != nil {
		return err
	}

	count, err := r.UsageCount(id, user)
	if err != nil {
		return err
	}
	if err := r.st.KVPut(affiliateUsageKey(id, user), count+1); err != nil {
		return err
	}
	return bumpDiscountUsage(r.st, user)
}

func sanitizeAffiliate(a *Affiliate) (*Affiliate, error) {
	copyAffiliate := a.Clone().Normalize()
	if copyAffiliate.Asset == "" {
		return nil, fmt.Errorf("%w: asset required", ErrInvalidAffiliate)
	}
	if copyAffiliate.Affiliate == ([20]byte{}) || copyAffiliate.Project == ([20]byte{}) {
		return nil, fmt.Errorf("%w: affiliate and project addresses required", ErrInvalidAffiliate)
	}
	if copyAffiliate.DiscountBps == 0 || copyAffiliate.DiscountBps > BpsDenominator {
		return nil, fmt.Errorf("%w: discount bps %d", ErrRateTooHigh, copyAffiliate.DiscountBps)
	}
	if copyAffiliate.CommissionBps > BpsDenominator {
		return nil, fmt.Errorf("%w: commission bps %d", ErrRateTooHigh, copyAffiliate.CommissionBps)
	}
	copyAffiliate.Funded = big.NewInt(0)
	copyAffiliate.Remaining = big.NewInt(0)
	copyAffiliate.VolumeGenerated = big.NewInt(0)
	copyAffiliate.Active = false
	return copyAffiliate, nil
}
