package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExpiration(t *testing.T) {
	cases := []struct {
		in       string
		expected int
	}{
		{"0", 0},
		{"90", 90},
		{"12h", 12 * 60},
		{"7d", 7 * 24 * 60},
		{"2w", 2 * 7 * 24 * 60},
		{"1m", 30 * 24 * 60},
		{"1y", 365 * 24 * 60},
		{"1D", 24 * 60},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			minutes, err := ParseExpiration(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, minutes)
		})
	}
}

func TestParseExpirationInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "7x", "-1", "-1d", "d", "1.5d"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseExpiration(in)
			assert.Error(t, err)
		})
	}
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		name     string
		pattern  string
		expected bool
	}{
		// patterns without wildcards match as a prefix
		{"psdbprd16a", "psdb", true},
		{"psdbdev26a", "psdb", true},
		{"appsrv01", "psdb", false},
		{"psdbprd16a", "psdbprd16a", true},
		// explicit wildcards are honored as-is
		{"psdbprd16a", "*prd*", true},
		{"psdbdev26a", "*prd*", false},
		{"psdbdev26a", "psdb?ev*", true},
		{"psdbprd16a", "", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, MatchPattern(tc.name, tc.pattern),
			"MatchPattern(%q, %q)", tc.name, tc.pattern)
	}
}

func TestResolveHostFullyQualified(t *testing.T) {
	short, fqdn, err := ResolveHost("127.0.0.1", nil)
	require.NoError(t, err)
	assert.Equal(t, "127", short)
	assert.Equal(t, "127.0.0.1", fqdn)
}

func TestResolveHostUnresolvable(t *testing.T) {
	_, _, err := ResolveHost("no-such-host", []string{"invalid"})
	assert.Error(t, err)

	_, _, err = ResolveHost("no-such-host", nil)
	assert.Error(t, err)
}

func TestRunHook(t *testing.T) {
	out, err := RunHook("echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	out, err = RunHook("")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = RunHook("exit 3")
	assert.Error(t, err)
}
