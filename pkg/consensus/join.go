package consensus

import (
	"time"

	"github.com/concordkv/concord/pkg/types"
	"github.com/google/uuid"
)

// joinTokenTTL bounds how long a minted join token stays redeemable.
const joinTokenTTL = 24 * time.Hour

// JoinToken authorizes exactly one node to join the cluster with the
// given role.
type JoinToken struct {
	Token     string
	Role      string // "voter" or "nonvoter"
	ExpiresAt time.Time
}

type joinGrant struct {
	role      string
	expiresAt time.Time
}

// GenerateJoinToken mints a single-use token a new node presents through
// the cluster-internal ClusterJoin call. Leader-only: the leader is the
// one node that can execute the AddVoter the token authorizes, so a
// token minted anywhere else would never be redeemable.
func (m *Manager) GenerateJoinToken(role string) (*JoinToken, error) {
	if !m.IsLeader() {
		return nil, types.NotLeader(m.LeaderAddr())
	}

	token := uuid.NewString()
	expires := time.Now().Add(joinTokenTTL)

	m.joinMu.Lock()
	m.dropExpiredGrants(time.Now())
	m.joinGrants[token] = joinGrant{role: role, expiresAt: expires}
	m.joinMu.Unlock()

	return &JoinToken{Token: token, Role: role, ExpiresAt: expires}, nil
}

// ValidateJoinToken redeems a join token and returns its role. Redeeming
// consumes the token: a second node presenting the same token, or the
// same node retrying after a successful join, is refused.
func (m *Manager) ValidateJoinToken(token string) (string, error) {
	m.joinMu.Lock()
	defer m.joinMu.Unlock()

	m.dropExpiredGrants(time.Now())
	grant, ok := m.joinGrants[token]
	if !ok {
		return "", types.NewError(types.KindPermissionDenied, "unknown or expired join token")
	}
	delete(m.joinGrants, token)
	return grant.role, nil
}

// dropExpiredGrants sweeps aged grants. Callers hold joinMu; sweeping on
// every mint and redeem keeps the map bounded without a background task.
func (m *Manager) dropExpiredGrants(now time.Time) {
	for token, grant := range m.joinGrants {
		if now.After(grant.expiresAt) {
			delete(m.joinGrants, token)
		}
	}
}
