// Package identity issues and verifies DigiPin account session tokens.
//
// It provides:
//   - LoadOrCreateKey: loads or generates the RSA signing key
//   - UserTokenIssuer: issues and verifies RS256 session JWTs
//   - RequireUserToken: Gin middleware enforcing a Bearer session token
package identity
