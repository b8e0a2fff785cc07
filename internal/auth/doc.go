// Package auth issues and verifies operator tokens for the control API.
//
// Tokens are HS256 JWTs signed with security.jwt.secret. There are no user
// accounts: an operator mints a token with `sensecraftd token <subject>` and
// sends it as a bearer token.
package auth
