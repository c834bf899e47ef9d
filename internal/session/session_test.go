package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	require.Equal(t, PolicyOpen, ParsePolicy("open"))
	require.Equal(t, PolicyWhitelist, ParsePolicy("whitelist"))
	require.Equal(t, PolicyWhitelist, ParsePolicy(""))
	require.Equal(t, PolicyWhitelist, ParsePolicy("bogus"))
}

func TestPolicyJSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(PolicyOpen)
	require.NoError(t, err)
	require.Equal(t, `"open"`, string(data))

	var p Policy
	require.NoError(t, json.Unmarshal([]byte(`"whitelist"`), &p))
	require.Equal(t, PolicyWhitelist, p)
}

func TestPolicyScan(t *testing.T) {
	t.Parallel()

	var p Policy
	require.NoError(t, p.Scan("open"))
	require.Equal(t, PolicyOpen, p)
	require.NoError(t, p.Scan([]byte("whitelist")))
	require.Equal(t, PolicyWhitelist, p)
	require.Error(t, p.Scan(42))
}

func TestClampTTLMinutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want int
	}{
		{0, 15},
		{-5, 15},
		{1, 1},
		{30, 30},
		{1440, 1440},
		{1441, 1440},
		{100000, 1440},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, ClampTTLMinutes(tc.in), "clamp(%d)", tc.in)
	}
}

func TestSessionActive(t *testing.T) {
	t.Parallel()

	now := time.Now()
	closed := now.Add(-time.Minute)

	tests := []struct {
		name string
		sess Session
		want bool
	}{
		{"open and unexpired", Session{ExpiresAt: now.Add(time.Minute)}, true},
		{"expired", Session{ExpiresAt: now.Add(-time.Second)}, false},
		{"expires exactly now", Session{ExpiresAt: now}, false},
		{"closed", Session{EndAt: &closed, ExpiresAt: now.Add(time.Hour)}, false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, tc.sess.Active(now))
		})
	}
}
