// Package identity authenticates operators of the anchoring service.
//
// It provides:
//   - TokenIssuer: issues and verifies HS256 operator tokens
//   - RequireToken: Gin middleware enforcing Bearer operator tokens
//
// Anchoring spends ledger fees, so deployments that expose the API beyond a
// trusted network gate POST /anchor behind an operator token.
package identity
