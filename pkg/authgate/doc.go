// Package authgate implements the Auth Gate: bearer-JWT validation and
// cluster-internal shared-secret checking against the four-tier handler
// requirement table (None/Authenticated/Permission/Internal). Tokens are
// HMAC-signed with a symmetric cluster secret and validated with
// lestrrat-go/jwx using HS256.
package authgate
