package congestion

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/booksim-go/endpoint/pkg/config"
)

func TestNew_DispatchesOnConfiguredPolicyName(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"none", "none"},
		{"", "none"},
		{"mypolicy", "mypolicy"},
		{"tcp-like", "tcp-like"},
		{"ecn", "ecn"},
		{"homa", "homa"},
	}
	for _, tc := range cases {
		cfg := &config.Config{HostControlPolicy: tc.name, TCPLikeMSS: 1, ECNGain: 0.5, ECNPeriod: 1, XactionLimitPerDest: 8}
		p := New(cfg)
		assert.Equal(t, tc.want, p.Name())
	}
}

func TestNew_FallsBackToNoneOnUnrecognizedPolicy(t *testing.T) {
	cfg := &config.Config{HostControlPolicy: "bogus"}
	p := New(cfg)
	assert.Equal(t, "none", p.Name())
}
