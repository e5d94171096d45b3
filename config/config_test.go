package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/homecnc/coord"
	"github.com/mastercactapus/homecnc/homing"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "homecnc.conf")
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `[machine]
order=zxyabc
inputs=gpio
invert=true

[z]
input=3
search_velocity=400
latch_velocity=25
latch_backoff=4
zero_backoff=2
travel_min=-95
travel_max=0
direction=max
jerk=50
jerk_high=500
pin=GPIO22

[a]
input=4
search_velocity=1000
latch_velocity=100
travel_max=360
`)

	m, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, homing.ExtendedOrder, m.Order)
	assert.Equal(t, InputsGPIO, m.Inputs)
	assert.True(t, m.InvertInputs)
	assert.Equal(t, coord.FlagsOf(coord.Z, coord.A), m.Configured)

	z := m.Axes[coord.Z]
	assert.Equal(t, 3, z.HomingInput)
	assert.EqualValues(t, 400, z.SearchVelocity)
	assert.EqualValues(t, 25, z.LatchVelocity)
	assert.EqualValues(t, 4, z.LatchBackoff)
	assert.EqualValues(t, 2, z.ZeroBackoff)
	assert.EqualValues(t, -95, z.TravelMin)
	assert.EqualValues(t, 0, z.TravelMax)
	assert.Equal(t, homing.ToMax, z.HomingDir)
	assert.EqualValues(t, 50, z.Jerk)
	assert.EqualValues(t, 500, z.JerkHigh)
	assert.Equal(t, "GPIO22", z.Pin)

	a := m.Axes[coord.A]
	assert.Equal(t, 4, a.HomingInput)
	assert.EqualValues(t, 360, a.TravelMax)
	assert.Equal(t, homing.ToMin, a.HomingDir)

	// dropped with the defaults
	assert.Equal(t, 0, m.Axes[coord.X].HomingInput)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"order", "[machine]\norder=zq\n"},
		{"inputs", "[machine]\ninputs=parallel\n"},
		{"float", "[x]\nsearch_velocity=fast\n"},
		{"input", "[x]\ninput=one\n"},
		{"direction", "[x]\ndirection=up\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.data))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	assert.Error(t, err)
}

func TestLoad_Partial(t *testing.T) {
	m, err := Load(writeConfig(t, "[x]\nlatch_backoff=3.5\n"))
	require.NoError(t, err)

	x := m.Axes[coord.X]
	assert.EqualValues(t, 3.5, x.LatchBackoff)
	// unset keys keep the defaults
	assert.Equal(t, 1, x.HomingInput)
	assert.EqualValues(t, 800, x.SearchVelocity)
	assert.False(t, m.InvertInputs)
}

func TestDefault(t *testing.T) {
	m := Default()
	assert.Equal(t, homing.DefaultOrder, m.Order)
	assert.Equal(t, InputsSim, m.Inputs)
	assert.Equal(t, coord.FlagsOf(coord.X, coord.Y, coord.Z), m.Configured)
	assert.Equal(t, homing.ToMax, m.Axes[coord.Z].HomingDir)
	assert.Equal(t, 3, m.Axes[coord.Z].HomingInput)
}
