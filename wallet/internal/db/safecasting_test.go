package db

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestInt64ToUint32 checks that an int64 value is converted to uint32 only
// when it is non-negative and fits within the uint32 range. It should fail
// loudly for any value outside those bounds.
func TestInt64ToUint32(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		val     int64
		want    uint32
		wantErr bool
	}{
		{name: "zero", val: 0, want: 0},
		{
			name: "max uint32",
			val:  int64(math.MaxUint32),
			want: math.MaxUint32,
		},
		{name: "negative", val: -1, wantErr: true},
		{
			name:    "too large",
			val:     int64(math.MaxUint32) + 1,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := int64ToUint32(tc.val)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrCastingOverflow)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

// TestInt64ToInt32 checks that an int64 value is converted to int32 only
// when it fits within the signed 32 bit range. It should fail loudly for
// any value outside those limits.
func TestInt64ToInt32(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		val     int64
		want    int32
		wantErr bool
	}{
		{
			name: "min int32",
			val:  int64(math.MinInt32),
			want: math.MinInt32,
		},
		{
			name: "max int32",
			val:  int64(math.MaxInt32),
			want: math.MaxInt32,
		},
		{
			name:    "below min",
			val:     int64(math.MinInt32) - 1,
			wantErr: true,
		},
		{
			name:    "above max",
			val:     int64(math.MaxInt32) + 1,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := int64ToInt32(tc.val)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrCastingOverflow)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
