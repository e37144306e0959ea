package configstore

import (
	"testing"

	"github.com/concordkv/concord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesIPSet(t *testing.T) {
	rule := &types.GrayRule{Kind: types.GrayRuleIPSet, IPs: []string{"10.0.0.1", "10.0.0.2"}}
	assert.True(t, matches(rule, ClientIdentity{IP: "10.0.0.1"}))
	assert.False(t, matches(rule, ClientIdentity{IP: "10.0.0.9"}))
}

func TestMatchesCIDR(t *testing.T) {
	rule := &types.GrayRule{Kind: types.GrayRuleCIDR, CIDR: "10.0.0.0/24"}
	assert.True(t, matches(rule, ClientIdentity{IP: "10.0.0.42"}))
	assert.False(t, matches(rule, ClientIdentity{IP: "10.0.1.42"}))
}

func TestMatchesTag(t *testing.T) {
	rule := &types.GrayRule{Kind: types.GrayRuleTag, TagKey: "env", TagValue: "canary"}
	assert.True(t, matches(rule, ClientIdentity{Tags: map[string]string{"env": "canary"}}))
	assert.False(t, matches(rule, ClientIdentity{Tags: map[string]string{"env": "prod"}}))
}

func TestMatchesPercentageBoundaries(t *testing.T) {
	zero := &types.GrayRule{Kind: types.GrayRulePercentage, Percentage: 0}
	hundred := &types.GrayRule{Kind: types.GrayRulePercentage, Percentage: 100}

	for i := 0; i < 50; i++ {
		id := ClientIdentity{ClientID: randomLikeID(i)}
		assert.False(t, matches(zero, id), "p=0 must match nobody")
		assert.True(t, matches(hundred, id), "p=100 must match everybody")
	}
}

func TestPercentageIsStablePerClient(t *testing.T) {
	rule := &types.GrayRule{Kind: types.GrayRulePercentage, Percentage: 50}
	id := ClientIdentity{ClientID: "client-42"}
	first := matches(rule, id)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, matches(rule, id))
	}
}

func TestPercentageDistributionRoughlyHalf(t *testing.T) {
	rule := &types.GrayRule{Kind: types.GrayRulePercentage, Percentage: 50}
	hits := 0
	const n = 1000
	for i := 0; i < n; i++ {
		if matches(rule, ClientIdentity{ClientID: randomLikeID(i)}) {
			hits++
		}
	}
	frac := float64(hits) / float64(n)
	assert.InDelta(t, 0.5, frac, 0.1)
}

func randomLikeID(i int) string {
	return "client-" + string(rune('a'+i%26)) + string(rune('0'+i%10)) + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := ""
	for i > 0 {
		digits = string(rune('0'+i%10)) + digits
		i /= 10
	}
	return digits
}
