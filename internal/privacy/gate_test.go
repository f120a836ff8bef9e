package privacy

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledGateAllowsEverything(t *testing.T) {
	g := New(false)
	assert.True(t, g.IsAllowedEndpoint("https://evil.example.com/x"))
}

func TestExactHostnameWhitelistMatch(t *testing.T) {
	g := New(true)
	is := assert.New(t)
	is.True(g.IsAllowedEndpoint("http://localhost:8080/status"))
	is.True(g.IsAllowedEndpoint("127.0.0.1"))
}

func TestCIDRWhitelistMatchesLiteralIP(t *testing.T) {
	g := New(true)
	assert.True(t, g.IsAllowedEndpoint("https://10.1.2.3/api"))
	assert.False(t, g.IsAllowedEndpoint("https://8.8.8.8/api"))
}

func TestUnresolvableHostIsDenied(t *testing.T) {
	g := New(true)
	g.resolver = func(host string) ([]net.IP, error) { return nil, assert.AnError }
	assert.False(t, g.IsAllowedEndpoint("https://api.example.com/x"))
}

func TestResolvedAddressCheckedAgainstWhitelist(t *testing.T) {
	g := New(true)
	calls := 0
	g.resolver = func(host string) ([]net.IP, error) {
		calls++
		return []net.IP{net.ParseIP("10.0.0.5")}, nil
	}

	assert.True(t, g.IsAllowedEndpoint("https://internal.example.com/x"))
	assert.True(t, g.IsAllowedEndpoint("https://internal.example.com/y"))
	assert.Equal(t, 1, calls, "second lookup should be served from the DNS cache")
}

func TestToggleInvalidatesDNSCache(t *testing.T) {
	g := New(true)
	calls := 0
	g.resolver = func(host string) ([]net.IP, error) {
		calls++
		return []net.IP{net.ParseIP("10.0.0.5")}, nil
	}

	assert.True(t, g.IsAllowedEndpoint("https://internal.example.com/x"))
	g.Toggle() // off
	g.Toggle() // back on
	assert.True(t, g.IsAllowedEndpoint("https://internal.example.com/x"))
	assert.Equal(t, 2, calls, "toggling should drop the cached resolution")
}

func TestSetWhitelistReplacesEntriesWholesale(t *testing.T) {
	g := New(true)
	is := assert.New(t)
	is.False(g.IsAllowedEndpoint("https://9.9.9.9/x"))

	is.NoError(g.SetWhitelist([]string{"9.9.9.9/32"}))
	is.True(g.IsAllowedEndpoint("https://9.9.9.9/x"))
	is.False(g.IsAllowedEndpoint("https://127.0.0.1/x"))
}

func TestDeniedResultForNetworkNotMatchedByWhitelist(t *testing.T) {
	g := New(true)
	require.NoError(t, g.SetWhitelist([]string{"127.0.0.1", "localhost"}))
	assert.False(t, g.IsAllowedEndpoint("https://api.example.com/x"))
}
