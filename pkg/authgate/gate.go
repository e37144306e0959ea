package authgate

import (
	"crypto/subtle"
	"time"

	"github.com/concordkv/concord/pkg/types"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// RequirementKind enumerates a handler's authentication tier.
type RequirementKind int

const (
	RequirementNone RequirementKind = iota
	RequirementAuthenticated
	RequirementPermission
	RequirementInternal
)

// Requirement is what a dispatched handler declares it needs. Resource
// and Action are only consulted when Kind is RequirementPermission.
type Requirement struct {
	Kind     RequirementKind
	Resource string
	Action   string
}

// Identity is what a validated bearer token resolves to.
type Identity struct {
	Subject     string
	Role        string
	Permissions []string // "resource:action" tuples
}

const roleAdmin = "admin"

// hasPermission reports whether the identity is admin or carries an
// explicit resource:action grant.
func (id *Identity) hasPermission(resource, action string) bool {
	if id.Role == roleAdmin {
		return true
	}
	want := resource + ":" + action
	for _, p := range id.Permissions {
		if p == want {
			return true
		}
	}
	return false
}

// Gate validates bearer tokens and internal-identity headers against the
// four-tier requirement table.
type Gate struct {
	secret           []byte
	internalIdentity string
}

// NewGate creates an Auth Gate signing and verifying tokens with secret,
// and recognizing internalIdentity as the cluster-internal server header
// value for RequirementInternal handlers.
func NewGate(secret, internalIdentity string) *Gate {
	return &Gate{secret: []byte(secret), internalIdentity: internalIdentity}
}

// IssueToken mints a bearer token for subject with the given role and
// permission tuples, valid for ttl.
func (g *Gate) IssueToken(subject, role string, permissions []string, ttl time.Duration) (string, error) {
	now := time.Now()
	builder := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim("role", role)
	if len(permissions) > 0 {
		builder = builder.Claim("permissions", permissions)
	}

	token, err := builder.Build()
	if err != nil {
		return "", types.Wrap(types.KindInternal, err, "failed to build token")
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, g.secret))
	if err != nil {
		return "", types.Wrap(types.KindInternal, err, "failed to sign token")
	}
	return string(signed), nil
}

// authenticate validates the bearer token carried in headers["accessToken"]
// and resolves it to an Identity.
func (g *Gate) authenticate(headers map[string]string) (*Identity, error) {
	raw, ok := headers["accessToken"]
	if !ok || raw == "" {
		return nil, types.NewError(types.KindUnauthenticated, "missing accessToken header")
	}

	token, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256, g.secret))
	if err != nil {
		return nil, types.NewError(types.KindUnauthenticated, "invalid or expired token")
	}

	id := &Identity{Subject: token.Subject()}
	if role, ok := token.Get("role"); ok {
		if s, ok := role.(string); ok {
			id.Role = s
		}
	}
	if perms, ok := token.Get("permissions"); ok {
		if list, ok := perms.([]interface{}); ok {
			for _, p := range list {
				if s, ok := p.(string); ok {
					id.Permissions = append(id.Permissions, s)
				}
			}
		}
	}
	return id, nil
}

// isInternal reports whether headers carry the configured cluster-internal
// server identity, compared in constant time since it guards a privileged
// tier.
func (g *Gate) isInternal(headers map[string]string) bool {
	got, ok := headers["serverIdentity"]
	if !ok || g.internalIdentity == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(g.internalIdentity)) == 1
}

// Check enforces req against headers. On success for RequirementNone it
// returns a nil Identity; every other tier returns the resolved Identity
// (nil for RequirementInternal, which has no associated token).
func (g *Gate) Check(req Requirement, headers map[string]string) (*Identity, error) {
	switch req.Kind {
	case RequirementNone:
		return nil, nil

	case RequirementAuthenticated:
		return g.authenticate(headers)

	case RequirementPermission:
		id, err := g.authenticate(headers)
		if err != nil {
			return nil, err
		}
		if !id.hasPermission(req.Resource, req.Action) {
			return id, types.NewError(types.KindPermissionDenied, "missing permission %s:%s", req.Resource, req.Action)
		}
		return id, nil

	case RequirementInternal:
		if !g.isInternal(headers) {
			return nil, types.NewError(types.KindPermissionDenied, "request is not cluster-internal")
		}
		return nil, nil

	default:
		return nil, types.NewError(types.KindInternal, "unknown auth requirement %d", req.Kind)
	}
}
