package authgate

import (
	"testing"
	"time"

	"github.com/concordkv/concord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequirementNonePassesWithoutHeaders(t *testing.T) {
	g := NewGate("secret", "cluster-x")
	id, err := g.Check(Requirement{Kind: RequirementNone}, nil)
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestAuthenticatedRoundTrip(t *testing.T) {
	g := NewGate("secret", "cluster-x")
	token, err := g.IssueToken("alice", "user", []string{"config:read"}, time.Minute)
	require.NoError(t, err)

	id, err := g.Check(Requirement{Kind: RequirementAuthenticated}, map[string]string{"accessToken": token})
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "alice", id.Subject)
	assert.Equal(t, "user", id.Role)
	assert.Equal(t, []string{"config:read"}, id.Permissions)
}

func TestAuthenticatedRejectsMissingToken(t *testing.T) {
	g := NewGate("secret", "cluster-x")
	_, err := g.Check(Requirement{Kind: RequirementAuthenticated}, map[string]string{})
	require.Error(t, err)
	assert.Equal(t, types.KindUnauthenticated, types.KindOf(err))
}

func TestAuthenticatedRejectsWrongSecret(t *testing.T) {
	other := NewGate("other-secret", "cluster-x")
	token, err := other.IssueToken("alice", "user", nil, time.Minute)
	require.NoError(t, err)

	g := NewGate("secret", "cluster-x")
	_, err = g.Check(Requirement{Kind: RequirementAuthenticated}, map[string]string{"accessToken": token})
	require.Error(t, err)
	assert.Equal(t, types.KindUnauthenticated, types.KindOf(err))
}

func TestAuthenticatedRejectsExpiredToken(t *testing.T) {
	g := NewGate("secret", "cluster-x")
	token, err := g.IssueToken("alice", "user", nil, -time.Minute)
	require.NoError(t, err)

	_, err = g.Check(Requirement{Kind: RequirementAuthenticated}, map[string]string{"accessToken": token})
	require.Error(t, err)
	assert.Equal(t, types.KindUnauthenticated, types.KindOf(err))
}

func TestPermissionExplicitGrant(t *testing.T) {
	g := NewGate("secret", "cluster-x")
	token, err := g.IssueToken("bob", "user", []string{"config:write"}, time.Minute)
	require.NoError(t, err)
	headers := map[string]string{"accessToken": token}

	_, err = g.Check(Requirement{Kind: RequirementPermission, Resource: "config", Action: "write"}, headers)
	assert.NoError(t, err)

	_, err = g.Check(Requirement{Kind: RequirementPermission, Resource: "config", Action: "delete"}, headers)
	require.Error(t, err)
	assert.Equal(t, types.KindPermissionDenied, types.KindOf(err))
}

func TestPermissionAdminBypassesTuples(t *testing.T) {
	g := NewGate("secret", "cluster-x")
	token, err := g.IssueToken("root", "admin", nil, time.Minute)
	require.NoError(t, err)

	_, err = g.Check(Requirement{Kind: RequirementPermission, Resource: "anything", Action: "at-all"},
		map[string]string{"accessToken": token})
	assert.NoError(t, err)
}

func TestInternalRequiresExactIdentity(t *testing.T) {
	g := NewGate("secret", "cluster-x")

	_, err := g.Check(Requirement{Kind: RequirementInternal}, map[string]string{"serverIdentity": "cluster-x"})
	assert.NoError(t, err)

	_, err = g.Check(Requirement{Kind: RequirementInternal}, map[string]string{"serverIdentity": "wrong"})
	require.Error(t, err)
	assert.Equal(t, types.KindPermissionDenied, types.KindOf(err))

	_, err = g.Check(Requirement{Kind: RequirementInternal}, map[string]string{})
	require.Error(t, err)
}

func TestInternalDisabledWhenNoIdentityConfigured(t *testing.T) {
	g := NewGate("secret", "")
	_, err := g.Check(Requirement{Kind: RequirementInternal}, map[string]string{"serverIdentity": ""})
	require.Error(t, err, "an empty configured identity must never match")
}
