package badges

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"perkledger/core/events"
	"perkledger/core/state"
	"perkledger/native/identity"
	"perkledger/storage"
)

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func newTestEngine(t *testing.T) (*Engine, *identity.Registry, uint64, *capturingEmitter) {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	profiles := identity.NewRegistry(st)
	var owner [20]byte
	owner[19] = 0x01
	id, err := profiles.Register(owner)
	require.NoError(t, err)

	engine := NewEngine(st, DefaultCatalog(), profiles)
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)
	return engine, profiles, id, emitter
}

func TestEvaluateAwardsMatchingBadges(t *testing.T) {
	engine, profiles, id, emitter := newTestEngine(t)

	awarded, err := engine.Evaluate(id, CategorySwapCount, big.NewInt(1))
	require.NoError(t, err)
	require.Len(t, awarded, 1)
	require.Equal(t, "First Trade", awarded[0].Name)

	profile, found, err := profiles.ProfileByID(id)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint32(1), profile.BadgeCount)
	require.Equal(t, uint64(10), profile.SocialPoints)
	require.Len(t, emitter.events, 1)
}

func TestEvaluateCrossesMultipleThresholds(t *testing.T) {
	engine, profiles, id, _ := newTestEngine(t)

	// A single evaluation crossing two volume thresholds unlocks both.
	awarded, err := engine.Evaluate(id, CategoryVolume, big.NewInt(2_000_000))
	require.NoError(t, err)
	require.Len(t, awarded, 2)

	profile, _, err := profiles.ProfileByID(id)
	require.NoError(t, err)
	require.Equal(t, uint32(2), profile.BadgeCount)
	require.Equal(t, uint64(300), profile.SocialPoints)
}

func TestEvaluateIdempotent(t *testing.T) {
	engine, profiles, id, _ := newTestEngine(t)

	first, err := engine.Evaluate(id, CategoryStreak, big.NewInt(8))
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := engine.Evaluate(id, CategoryStreak, big.NewInt(9))
	require.NoError(t, err)
	require.Empty(t, second)

	profile, _, err := profiles.ProfileByID(id)
	require.NoError(t, err)
	require.Equal(t, uint32(1), profile.BadgeCount)
	require.Equal(t, uint64(70), profile.SocialPoints)
}

func TestEvaluateRejectsUnknownCategory(t *testing.T) {
	engine, _, id, _ := newTestEngine(t)
	_, err := engine.Evaluate(id, Category(99), big.NewInt(1))
	require.ErrorIs(t, err, ErrInvalidCategory)
}

func TestEvaluateZeroMeasuredIsNoop(t *testing.T) {
	engine, _, id, _ := newTestEngine(t)
	awarded, err := engine.Evaluate(id, CategorySwapCount, big.NewInt(0))
	require.NoError(t, err)
	require.Empty(t, awarded)
}
