// Package auth provides authentication for the linger admin API.
//
// Admin requests authenticate with JWT bearer tokens signed with HS256
// using the configured secret. Tokens carry the subject in the "sub"
// claim; Middleware validates the token and makes the subject available
// to handlers through SubjectFromContext.
//
// Tokens are minted with:
//
//	verifier := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate("admin", 24*time.Hour)
package auth
