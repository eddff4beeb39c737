// Package jwt issues and verifies self-signed bearer tokens.
//
// Tokens carry sub, a random jti, iat, nbf and exp, with iss and aud both set
// to the configured issuer unless an explicit audience is given. Callers may
// add private claims; registered claim names are reserved.
//
// Verification is strict: the algorithm must match the configured signing
// method, issuer and audience must match, exp is required, and no clock skew
// is tolerated.
package jwt
