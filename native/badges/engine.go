package badges

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"perkledger/core/events"
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type profileMutator interface {
	AwardBadge(id uint64, points uint64) error
}

// Engine evaluates profile metrics against the badge catalog. Unlocks are
// monotonic: once a badge is owned it stays owned, and re-evaluating a metric
// never awards the same badge twice.
type Engine struct {
	st       engineState
	catalog  *Catalog
	profiles profileMutator
	emitter  events.Emitter
}

// NewEngine constructs an engine over the provided state, catalog and profile
// registry.
func NewEngine(st engineState, catalog *Catalog, profiles profileMutator) *Engine {
	return &Engine{st: st, catalog: catalog, profiles: profiles, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used to broadcast badge awards.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func ownedKey(profileID uint64, badgeID uint32) []byte {
	key := make([]byte, 0, 32)
	key = append(key, []byte("badges/owned/")...)
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], profileID)
	binary.BigEndian.PutUint32(buf[8:], badgeID)
	return append(key, buf[:]...)
}

// Owned reports whether the profile already holds the badge.
func (e *Engine) Owned(profileID uint64, badgeID uint32) (bool, error) {
	return e.st.KVGet(ownedKey(profileID, badgeID), new(bool))
}

// Evaluate awards every not-yet-owned badge in the category whose requirement
// is satisfied by the measured value. Multiple badges may unlock from a single
// evaluation when the metric crosses several thresholds at once. The awarded
// badges are returned in ascending requirement order.
func (e *Engine) Evaluate(profileID uint64, category Category, measured *big.Int) ([]Badge, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCategory, category)
	}
	if measured == nil || measured.Sign() <= 0 {
		return nil, nil
	}
	var awarded []Badge
	for _, badge := range e.catalog.ByCategory(category) {
		if badge.Requirement.Cmp(measured) > 0 {
			break
		}
		owned, err := e.Owned(profileID, badge.ID)
		if err != nil {
			return awarded, err
		}
		if owned {
			continue
		}
		if err := e.st.KVPut(ownedKey(profileID, badge.ID), true); err != nil {
			return awarded, err
		}
		if err := e.profiles.AwardBadge(profileID, badge.Points); err != nil {
			return awarded, err
		}
		awarded = append(awarded, badge)
		e.emit(events.BadgeUnlocked{ID: profileID, BadgeID: badge.ID, Name: badge.Name, Points: badge.Points})
	}
	return awarded, nil
}

func (e *Engine) emit(event events.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}
