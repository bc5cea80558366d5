package service

import (
	"testing"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOverrideMode(t *testing.T) {
	tests := []struct {
		in   string
		want domain.OverrideMode
	}{
		{"auto", domain.OverrideModeAuto},
		{"0", domain.OverrideModeAuto},
		{"1", domain.OverrideModeChargeFromGrid},
		{"Charge_From_Grid", domain.OverrideModeChargeFromGrid},
		{"charge-from-grid", domain.OverrideModeChargeFromGrid},
		{"discharge", domain.OverrideModeDischarge},
		{" IDLE ", domain.OverrideModeIdle},
		{"pv only", domain.OverrideModePVOnly},
		{"4", domain.OverrideModePVOnly},
	}
	for _, tt := range tests {
		got, err := ParseOverrideMode(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseOverrideModeInvalid(t *testing.T) {
	for _, in := range []string{"", "5", "-1", "turbo", "charge"} {
		_, err := ParseOverrideMode(in)
		var overrideErr *domain.InvalidOverrideError
		require.ErrorAs(t, err, &overrideErr, in)
		assert.Equal(t, "mode", overrideErr.Field)
	}
}

func TestParseOverrideDuration(t *testing.T) {
	d, err := ParseOverrideDuration("02:00")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, d)

	d, err = ParseOverrideDuration("23:59")
	require.NoError(t, err)
	assert.Equal(t, 23*time.Hour+59*time.Minute, d)

	d, err = ParseOverrideDuration("00:15")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)
}

func TestParseOverrideDurationInvalid(t *testing.T) {
	for _, in := range []string{"", "00:00", "24:00", "12:60", "1:00", "12", "ab:cd", "12:5"} {
		_, err := ParseOverrideDuration(in)
		var overrideErr *domain.InvalidOverrideError
		require.ErrorAs(t, err, &overrideErr, in)
		assert.Equal(t, "duration", overrideErr.Field)
	}
}

func TestFormatOverrideDuration(t *testing.T) {
	assert.Equal(t, "01:30", FormatOverrideDuration(90*time.Minute))
	assert.Equal(t, "23:59", FormatOverrideDuration(48*time.Hour))
}
