package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		triple  string
		want    Platform
		wantErr bool
	}{
		{
			name:   "full triple",
			triple: "x86_64-linux-gnu",
			want:   Platform{Arch: "x86_64", OS: "linux", ABI: "gnu"},
		},
		{
			name:   "triple without ABI",
			triple: "aarch64-darwin",
			want:   Platform{Arch: "aarch64", OS: "darwin"},
		},
		{
			name:   "musl variant",
			triple: "x86_64-linux-musl",
			want:   Platform{Arch: "x86_64", OS: "linux", ABI: "musl"},
		},
		{
			name:    "single component",
			triple:  "x86_64",
			wantErr: true,
		},
		{
			name:    "unknown architecture",
			triple:  "sparc-linux-gnu",
			wantErr: true,
		},
		{
			name:    "unknown OS",
			triple:  "x86_64-plan9",
			wantErr: true,
		},
		{
			name:    "empty string",
			triple:  "",
			wantErr: true,
		},
		{
			name:    "too many components",
			triple:  "x86_64-unknown-linux-gnu",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.triple)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnsupported)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestString_RoundTrip(t *testing.T) {
	for _, triple := range []string{"x86_64-linux-gnu", "aarch64-darwin", "riscv64-linux-musl"} {
		p, err := Parse(triple)
		require.NoError(t, err)
		assert.Equal(t, triple, p.String())
	}
}

func TestHost(t *testing.T) {
	h := Host()
	assert.False(t, h.IsZero())

	// The host triple must round-trip through Parse
	parsed, err := Parse(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}
