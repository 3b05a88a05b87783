package discount

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"

	"perkledger/core/events"
)

// BpsDenominator is the scaling factor for all basis point math in this
// module.
const BpsDenominator = 10_000

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out *[][]byte) error
}

type identityReader interface {
	IDByOwner(owner [20]byte) (uint64, bool, error)
}

func poolKey(id PoolID) []byte {
	return append([]byte("discount/pool/"), id[:]...)
}

func pairKey(assetA, assetB string) []byte {
	// Pair indexes are direction-agnostic: store under the lexicographically
	// smaller symbol first.
	a, b := NormalizeAsset(assetA), NormalizeAsset(assetB)
	if b < a {
		a, b = b, a
	}
	return []byte("discount/pair/" + a + "/" + b)
}

func lastClaimKey(id PoolID, user [20]byte) []byte {
	key := append([]byte("discount/lastclaim/"), id[:]...)
	return append(key, user[:]...)
}

func claimTotalKey(id PoolID, user [20]byte) []byte {
	key := append([]byte("discount/claimtotal/"), id[:]...)
	return append(key, user[:]...)
}

func creatorCountKey(profileID uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], profileID)
	return append([]byte("discount/creatorcount/"), buf[:]...)
}

func usageCountKey(user [20]byte) []byte {
	return append([]byte("discount/usagecount/"), user[:]...)
}

var poolSeqKey = []byte("discount/pool/seq")

// PoolRegistry manages persistence and retrieval of discount pools together
// with their per-user claim meters.
type PoolRegistry struct {
	st         registryState
	identities identityReader
	emitter    events.Emitter
}

// NewPoolRegistry creates a registry backed by the provided state manager.
func NewPoolRegistry(st registryState, identities identityReader) *PoolRegistry {
	return &PoolRegistry{st: st, identities: identities, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used to broadcast pool updates.
func (r *PoolRegistry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// Create persists a new discount pool funded by the caller. The caller must
// hold an identity credential; the derived pool id is returned.
func (r *PoolRegistry) Create(caller [20]byte, p *Pool) (PoolID, error) {
	if p == nil {
		return PoolID{}, ErrNilPool
	}
	profileID, found, err := r.identities.IDByOwner(caller)
	if err != nil {
		return PoolID{}, err
	}
	if !found {
		return PoolID{}, ErrCredentialRequired
	}
	sanitized, err := sanitizePool(p)
	if err != nil {
		return PoolID{}, err
	}
	sanitized.Creator = caller
	sanitized.CreatorProfile = profileID

	var seq uint64
	if _, err := r.st.KVGet(poolSeqKey, &seq); err != nil {
		return PoolID{}, err
	}
	seq++
	if err := r.st.KVPut(poolSeqKey, seq); err != nil {
		return PoolID{}, err
	}
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	preimage := make([]byte, 0, 64)
	preimage = append(preimage, caller[:]...)
	preimage = append(preimage, sanitized.AssetA...)
	preimage = append(preimage, sanitized.AssetB...)
	preimage = append(preimage, seqBuf[:]...)
	copy(sanitized.ID[:], crypto.Keccak256(preimage))

	exists, err := r.st.KVGet(poolKey(sanitized.ID), new(Pool))
	if err != nil {
		return PoolID{}, err
	}
	if exists {
		return PoolID{}, ErrPoolExists
	}
	if err := r.st.KVPut(poolKey(sanitized.ID), sanitized); err != nil {
		return PoolID{}, err
	}
	if err := r.st.KVAppend(pairKey(sanitized.AssetA, sanitized.AssetB), sanitized.ID[:]); err != nil {
		return PoolID{}, err
	}

	count := uint64(0)
	if _, err := r.st.KVGet(creatorCountKey(profileID), &count); err != nil {
		return PoolID{}, err
	}
	if err := r.st.KVPut(creatorCountKey(profileID), count+1); err != nil {
		return PoolID{}, err
	}
	return sanitized.ID, nil
}

// PoolByID retrieves a pool copy by its identifier.
func (r *PoolRegistry) PoolByID(id PoolID) (*Pool, bool) {
	pool := new(Pool)
	found, err := r.st.KVGet(poolKey(id), pool)
	if err != nil || !found {
		return nil, false
	}
	return pool.Normalize(), true
}

// ListByPair returns the pool ids registered for the asset pair, in insertion
// order.
func (r *PoolRegistry) ListByPair(assetA, assetB string) ([]PoolID, error) {
	var raw [][]byte
	if err := r.st.KVGetList(pairKey(assetA, assetB), &raw); err != nil {
		return nil, err
	}
	ids := make([]PoolID, 0, len(raw))
	for _, b := range raw {
		var id PoolID
		copy(id[:], b)
		ids = append(ids, id)
	}
	return ids, nil
}

// LastClaimUnix returns the timestamp of the user's most recent claim against
// the pool, or zero when the user never claimed.
func (r *PoolRegistry) LastClaimUnix(id PoolID, user [20]byte) (uint64, error) {
	var ts uint64
	if _, err := r.st.KVGet(lastClaimKey(id, user), &ts); err != nil {
		return 0, err
	}
	return ts, nil
}

// ClaimTotal returns the cumulative discount amount claimed by the user from
// the pool.
func (r *PoolRegistry) ClaimTotal(id PoolID, user [20]byte) (*big.Int, error) {
	total := new(big.Int)
	found, err := r.st.KVGet(claimTotalKey(id, user), total)
	if err != nil {
		return nil, err
	}
	if !found {
		return big.NewInt(0), nil
	}
	return total, nil
}

// PoolCreationCount returns the number of pools created by the profile.
func (r *PoolRegistry) PoolCreationCount(profileID uint64) (uint64, error) {
	var count uint64
	if _, err := r.st.KVGet(creatorCountKey(profileID), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// DiscountUsageCount returns the number of discounts (pool claims and
// affiliate uses) recorded for the user.
func (r *PoolRegistry) DiscountUsageCount(user [20]byte) (uint64, error) {
	return discountUsageCount(r.st, user)
}

// RecordClaim settles a granted discount back against the pool: the reserve
// of the paid asset decreases, the per-user meters advance, and the pool is
// deactivated once it expires or both reserves are exhausted.
func (r *PoolRegistry) RecordClaim(id PoolID, user [20]byte, payAsset string, discount, volume *big.Int, nowUnix uint64) error {
	pool, found := r.PoolByID(id)
	if !found {
		return fmt.Errorf("%w: %x", ErrPoolNotFound, id[:8])
	}
	if !pool.Active {
		return fmt.Errorf("%w: pool %x", ErrInactive, id[:8])
	}
	if discount == nil || discount.Sign() < 0 {
		discount = big.NewInt(0)
	}

	if pool.ReserveBacked && discount.Sign() > 0 {
		asset := NormalizeAsset(payAsset)
		var reserve **big.Int
		switch asset {
		case pool.AssetA:
			reserve = &pool.ReserveA
		case pool.AssetB:
			reserve = &pool.ReserveB
		default:
			return fmt.Errorf("%w: asset %s not in pair", ErrInvalidPool, asset)
		}
		if (*reserve).Cmp(discount) < 0 {
			return fmt.Errorf("%w: pool %x", ErrClaimExceedsReserve, id[:8])
		}
		*reserve = new(big.Int).Sub(*reserve, discount)
	}

	if volume != nil && volume.Sign() > 0 {
		pool.TotalVolumeGenerated = new(big.Int).Add(pool.TotalVolumeGenerated, volume)
	}

	deactivateReason := ""
	if pool.Expired(nowUnix) {
		deactivateReason = "expired"
	} else if pool.ReserveBacked && pool.Depleted() {
		deactivateReason = "depleted"
	}
	if deactivateReason != "" {
		pool.Active = false
	}
	if err := r.st.KVPut(poolKey(id), pool); err != nil {
		return err
	}

	if discount.Sign() > 0 {
		total, err := r.ClaimTotal(id, user)
		if err != nil {
			return err
		}
		if err := r.st.KVPut(claimTotalKey(id, user), new(big.Int).Add(total, discount)); err != nil {
			return err
		}
		if err := r.st.KVPut(lastClaimKey(id, user), nowUnix); err != nil {
			return err
		}
		if err := bumpDiscountUsage(r.st, user); err != nil {
			return err
		}
	}
	if deactivateReason != "" {
		r.emit(events.PoolDiscountDeactivated{PoolID: id, Reason: deactivateReason})
	}
	return nil
}

func (r *PoolRegistry) emit(event events.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(event)
}

func sanitizePool(p *Pool) (*Pool, error) {
	copyPool := p.Clone().Normalize()
	if copyPool.AssetA == "" || copyPool.AssetB == "" {
		return nil, fmt.Errorf("%w: asset pair required", ErrInvalidPool)
	}
	if copyPool.AssetA == copyPool.AssetB {
		return nil, fmt.Errorf("%w: assets must differ", ErrInvalidPool)
	}
	if copyPool.DiscountBps == 0 || copyPool.DiscountBps > BpsDenominator {
		return nil, fmt.Errorf("%w: discount bps %d", ErrRateTooHigh, copyPool.DiscountBps)
	}
	if copyPool.ReserveBacked && copyPool.Depleted() {
		return nil, fmt.Errorf("%w: reserve-backed pool requires funding", ErrInvalidPool)
	}
	copyPool.Active = true
	return copyPool, nil
}

func discountUsageCount(st registryState, user [20]byte) (uint64, error) {
	var count uint64
	if _, err := st.KVGet(usageCountKey(user), &count); err != nil {
		return 0, err
	}
	return count, nil
}

func bumpDiscountUsage(st registryState, user [20]byte) error {
	count, err := discountUsageCount(st, user)
	if err != nil {
		return err
	}
	return st.KVPut(usageCountKey(user), count+1)
}
