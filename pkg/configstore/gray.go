package configstore

import (
	"hash/fnv"
	"net"

	"github.com/concordkv/concord/pkg/types"
)

// ClientIdentity is what a reader presents for gray-release matching: its
// declared ip, a stable client id for percentage bucketing, and arbitrary
// tag metadata.
type ClientIdentity struct {
	IP       string
	ClientID string
	Tags     map[string]string
}

// resolve picks main or gray content for a read: clients matching the
// item's gray rule see the gray variant, everyone else the main content.
func resolve(item *types.ConfigItem, who ClientIdentity) []byte {
	if item.Gray == nil || !matches(item.Gray, who) {
		return item.Content
	}
	return item.Gray.Content
}

func matches(rule *types.GrayRule, who ClientIdentity) bool {
	switch rule.Kind {
	case types.GrayRuleIPSet:
		for _, ip := range rule.IPs {
			if ip == who.IP {
				return true
			}
		}
		return false

	case types.GrayRuleCIDR:
		_, ipnet, err := net.ParseCIDR(rule.CIDR)
		if err != nil {
			return false
		}
		ip := net.ParseIP(who.IP)
		return ip != nil && ipnet.Contains(ip)

	case types.GrayRulePercentage:
		return percentBucket(who.ClientID) < rule.Percentage

	case types.GrayRuleTag:
		return who.Tags[rule.TagKey] == rule.TagValue

	default:
		return false
	}
}

// percentBucket maps a client id to a stable [0,100) bucket via FNV-1a, so
// the same client always lands in the same bucket across reads.
func percentBucket(clientID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientID))
	return int(h.Sum32() % 100)
}
