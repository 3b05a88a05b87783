package identity

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"perkledger/core/events"
	"perkledger/native/common"
)

// SecondsPerDay is the day length used for streak arithmetic.
const SecondsPerDay uint64 = 24 * 60 * 60

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Registry manages persistence and retrieval of loyalty profiles. Identity
// credentials follow mint-once semantics: one profile per owner, created on
// registration and never destroyed.
type Registry struct {
	st      registryState
	emitter events.Emitter
}

// NewRegistry creates a registry backed by the provided state manager.
func NewRegistry(st registryState) *Registry {
	return &Registry{st: st, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used to broadcast profile updates.
// Passing nil resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func profileKey(id uint64) []byte {
	key := make([]byte, 0, 20)
	key = append(key, []byte("identity/profile/")...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return append(key, buf[:]...)
}

func ownerKey(owner [20]byte) []byte {
	return append([]byte("identity/owner/"), owner[:]...)
}

var seqKey = []byte("identity/seq")

// Register mints a profile for the owner and returns its identifier. Each
// owner may register exactly once.
func (r *Registry) Register(owner [20]byte) (uint64, error) {
	if owner == ([20]byte{}) {
		return 0, ErrInvalidOwner
	}
	exists, err := r.st.KVGet(ownerKey(owner), new(uint64))
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, ErrAlreadyRegistered
	}

	var seq uint64
	if _, err := r.st.KVGet(seqKey, &seq); err != nil {
		return 0, err
	}
	id := seq + 1
	if err := r.st.KVPut(seqKey, id); err != nil {
		return 0, err
	}

	profile := (&Profile{ID: id, Owner: owner}).Normalize()
	if err := r.putProfile(profile); err != nil {
		return 0, err
	}
	if err := r.st.KVPut(ownerKey(owner), id); err != nil {
		return 0, err
	}
	r.emit(events.IdentityRegistered{ID: id, Owner: owner})
	return id, nil
}

// ProfileByID retrieves a profile copy by its identifier.
func (r *Registry) ProfileByID(id uint64) (*Profile, bool, error) {
	profile := new(Profile)
	found, err := r.st.KVGet(profileKey(id), profile)
	if err != nil || !found {
		return nil, false, err
	}
	return profile.Normalize(), true, nil
}

// ProfileByOwner retrieves a profile copy by its owner address.
func (r *Registry) ProfileByOwner(owner [20]byte) (*Profile, bool, error) {
	id, found, err := r.IDByOwner(owner)
	if err != nil || !found {
		return nil, false, err
	}
	return r.ProfileByID(id)
}

// IDByOwner resolves the credential identifier owned by the address.
func (r *Registry) IDByOwner(owner [20]byte) (uint64, bool, error) {
	var id uint64
	found, err := r.st.KVGet(ownerKey(owner), &id)
	if err != nil || !found {
		return 0, false, err
	}
	return id, true, nil
}

// OwnerOf resolves the owner of the given credential identifier.
func (r *Registry) OwnerOf(id uint64) ([20]byte, bool, error) {
	profile, found, err := r.ProfileByID(id)
	if err != nil || !found {
		return [20]byte{}, false, err
	}
	return profile.Owner, true, nil
}

// HasProfile reports whether the owner holds a credential.
func (r *Registry) HasProfile(owner [20]byte) bool {
	_, found, err := r.IDByOwner(owner)
	return err == nil && found
}

// RecordActivity folds a settled trade into the profile metrics: cumulative
// volume, the derived tier, the swap counter and the consecutive-activity-day
// streak. It returns the updated profile and whether the tier rose.
func (r *Registry) RecordActivity(id uint64, volume *big.Int, nowUnix uint64) (*Profile, bool, error) {
	if volume == nil || volume.Sign() <= 0 {
		return nil, false, ErrInvalidAmount
	}
	profile, found, err := r.ProfileByID(id)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, fmt.Errorf("%w: %d", ErrProfileNotFound, id)
	}

	profile.TotalVolume = new(big.Int).Add(profile.TotalVolume, volume)
	oldTier := profile.Tier
	newTier := TierForVolume(profile.TotalVolume)
	if newTier > profile.Tier {
		profile.Tier = newTier
	}

	switch {
	case profile.LastActivityUnix == 0:
		profile.ActivityStreak = 1
	case nowUnix < profile.LastActivityUnix:
		// Out-of-order timestamp: treat as same-day activity.
		profile.ActivityStreak++
	case (nowUnix-profile.LastActivityUnix)/SecondsPerDay <= 1:
		profile.ActivityStreak++
	default:
		profile.ActivityStreak = 1
	}
	profile.SwapCount++
	profile.LastActivityUnix = nowUnix

	if err := r.putProfile(profile); err != nil {
		return nil, false, err
	}
	tierChanged := profile.Tier > oldTier
	if tierChanged {
		r.emit(events.TierChanged{ID: id, OldTier: oldTier, NewTier: profile.Tier})
	}
	return profile, tierChanged, nil
}

// CheckAndConsumeWindow applies the per-window volume throttle to the profile.
// The marker is the serialized-batch sequence counter supplied by the host
// environment; when it advances the window usage resets before the new amount
// is applied. The whole operation is rejected when the limit would be
// exceeded.
func (r *Registry) CheckAndConsumeWindow(id uint64, amount *big.Int, marker uint64, limit *big.Int) error {
	profile, found, err := r.ProfileByID(id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %d", ErrProfileNotFound, id)
	}
	usage := common.WindowUsage{Marker: profile.WindowMarker, Volume: profile.WindowVolume}
	next, err := common.CheckWindow(limit, marker, usage, amount)
	if err != nil {
		return err
	}
	profile.WindowMarker = next.Marker
	profile.WindowVolume = next.Volume
	return r.putProfile(profile)
}

// AwardBadge increments the badge counters on behalf of the badge engine.
func (r *Registry) AwardBadge(id uint64, points uint64) error {
	profile, found, err := r.ProfileByID(id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %d", ErrProfileNotFound, id)
	}
	profile.BadgeCount++
	profile.SocialPoints += points
	return r.putProfile(profile)
}

// AddAffiliateEarnings credits commission earnings to the profile owned by the
// affiliate address, when such a profile exists.
func (r *Registry) AddAffiliateEarnings(owner [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	profile, found, err := r.ProfileByOwner(owner)
	if err != nil || !found {
		return err
	}
	profile.AffiliateEarnings = new(big.Int).Add(profile.AffiliateEarnings, amount)
	return r.putProfile(profile)
}

func (r *Registry) putProfile(p *Profile) error {
	return r.st.KVPut(profileKey(p.ID), p.Normalize())
}

func (r *Registry) emit(event events.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(event)
}
