package controls

import (
	"testing"

	"github.com/psg-sentry/sentry/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Defaults(t *testing.T) {
	s := New(nil)
	cfg := s.Get()

	assert.False(t, cfg.Tracking)
	assert.False(t, cfg.Autofire)
	assert.False(t, cfg.AlwaysFire)
	assert.False(t, cfg.ScanWhenIdle)
	assert.Empty(t, cfg.ShootColours)
	assert.Empty(t, cfg.SafeColours)
}

func TestStore_EmptyListsSemantics(t *testing.T) {
	s := New(nil)

	for _, c := range core.TrackableColours() {
		assert.True(t, s.IsShootable(c), "%s shootable with empty list", c)
		assert.False(t, s.IsSafe(c), "%s safe with empty list", c)
	}
}

func TestStore_ListMembership(t *testing.T) {
	s := New(nil)
	_, err := s.Set(core.ControlsConfig{
		Autofire:     true,
		ShootColours: []core.Colour{core.Red, core.Blue},
		SafeColours:  []core.Colour{core.Blue, core.Green},
	})
	require.NoError(t, err)

	assert.True(t, s.IsShootable(core.Red))
	assert.True(t, s.IsShootable(core.Blue))
	assert.False(t, s.IsShootable(core.Yellow))

	assert.True(t, s.IsSafe(core.Blue), "a colour in both lists is safe")
	assert.True(t, s.IsSafe(core.Green))
	assert.False(t, s.IsSafe(core.Red))
}

func TestStore_SetReplacesWhole(t *testing.T) {
	s := New(nil)
	_, err := s.Set(core.ControlsConfig{
		Tracking:     true,
		Autofire:     true,
		ShootColours: []core.Colour{core.Red},
	})
	require.NoError(t, err)

	prev, err := s.Set(core.ControlsConfig{ScanWhenIdle: true})
	require.NoError(t, err)
	assert.True(t, prev.Autofire)

	cfg := s.Get()
	assert.False(t, cfg.Tracking)
	assert.False(t, cfg.Autofire)
	assert.True(t, cfg.ScanWhenIdle)
	assert.Empty(t, cfg.ShootColours)
	assert.True(t, s.ScanWhenIdle())
}

func TestStore_InvalidColourRejectsWholeUpdate(t *testing.T) {
	s := New(nil)
	_, err := s.Set(core.ControlsConfig{Autofire: true, ShootColours: []core.Colour{core.Red}})
	require.NoError(t, err)

	_, err = s.Set(core.ControlsConfig{
		AlwaysFire:   true,
		ShootColours: []core.Colour{core.Blue},
		SafeColours:  []core.Colour{core.Colour(99)},
	})
	require.ErrorIs(t, err, core.ErrUnknownColour)

	cfg := s.Get()
	assert.True(t, cfg.Autofire)
	assert.False(t, cfg.AlwaysFire)
	assert.Equal(t, []core.Colour{core.Red}, cfg.ShootColours)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := New(nil)
	_, err := s.Set(core.ControlsConfig{ShootColours: []core.Colour{core.Red}})
	require.NoError(t, err)

	cfg := s.Get()
	cfg.ShootColours[0] = core.Green

	assert.True(t, s.IsShootable(core.Red))
	assert.False(t, s.IsShootable(core.Green))
}

func TestStore_Accessors(t *testing.T) {
	s := New(nil)
	_, err := s.Set(core.ControlsConfig{Tracking: true, Autofire: true, AlwaysFire: true})
	require.NoError(t, err)

	assert.True(t, s.Tracking())
	assert.True(t, s.Autofire())
	assert.True(t, s.AlwaysFire())
	assert.False(t, s.ScanWhenIdle())
}
