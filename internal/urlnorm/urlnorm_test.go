package urlnorm

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvestd/internal/model"
)

type fakeResolver map[string][]net.IPAddr

func (f fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	if addrs, ok := f[host]; ok {
		return addrs, nil
	}
	return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}, nil
}

func TestNormalizeIdempotent(t *testing.T) {
	r := fakeResolver{}
	ctx := context.Background()

	first, err := normalizeWithResolver(ctx, "HTTPS://Example.com:443/a/../b/?utm_source=x&z=1&a=2#frag", "", r)
	require.Nil(t, err)

	second, err := normalizeWithResolver(ctx, first.Canonical, "", r)
	require.Nil(t, err)

	assert.Equal(t, first.Canonical, second.Canonical)
	assert.Equal(t, first.URLHash, second.URLHash)
}

func TestNormalizeStripsTrackingAndSortsQuery(t *testing.T) {
	r := fakeResolver{}
	res, err := normalizeWithResolver(context.Background(), "http://example.com/path/?z=1&utm_campaign=foo&a=2&fbclid=abc", "", r)
	require.Nil(t, err)
	assert.Equal(t, "http://example.com/path?a=2&z=1", res.Canonical)
}

func TestNormalizeRejectsBadScheme(t *testing.T) {
	_, err := normalizeWithResolver(context.Background(), "ftp://example.com/", "", fakeResolver{})
	require.NotNil(t, err)
	assert.Equal(t, model.ErrUnsupportedScheme, err.Code)
}

func TestNormalizeSSRFTable(t *testing.T) {
	cases := []struct {
		name string
		host string
		ip   string
	}{
		{"loopback", "loop.test", "127.0.0.1"},
		{"link-local", "ll.test", "169.254.1.1"},
		{"metadata", "meta.test", "169.254.169.254"},
		{"private-10", "p10.test", "10.1.2.3"},
		{"private-172", "p172.test", "172.16.0.5"},
		{"private-192", "p192.test", "192.168.1.1"},
		{"multicast", "mc.test", "224.0.0.1"},
		{"unspecified", "uns.test", "0.0.0.0"},
		{"v6-loopback", "v6l.test", "::1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := fakeResolver{tc.host: {{IP: net.ParseIP(tc.ip)}}}
			_, err := normalizeWithResolver(context.Background(), "http://"+tc.host+"/", "", r)
			require.NotNil(t, err)
			assert.Equal(t, model.ErrSSRFBlocked, err.Code)
		})
	}
}

func TestNormalizeRejectsLocalhostAlias(t *testing.T) {
	_, err := normalizeWithResolver(context.Background(), "http://localhost/", "", fakeResolver{})
	require.NotNil(t, err)
	assert.Equal(t, model.ErrSSRFBlocked, err.Code)
}

func TestCheckAddr(t *testing.T) {
	blocked := netip.MustParseAddr("10.0.0.1")
	assert.NotNil(t, CheckAddr(blocked))

	allowed := netip.MustParseAddr("93.184.216.34")
	assert.Nil(t, CheckAddr(allowed))
}

func TestRegistrableDomain(t *testing.T) {
	assert.Equal(t, "example.com", RegistrableDomain("www.example.com"))
	assert.Equal(t, "example.co.uk", RegistrableDomain("docs.example.co.uk"))
	assert.True(t, SameRegistrableDomain("a.example.com", "b.example.com"))
	assert.False(t, SameRegistrableDomain("example.com", "example.org"))
}
