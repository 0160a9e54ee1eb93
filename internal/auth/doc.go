// Package auth identifies the caller of the chat API.
//
// Conversations are owned by a user id. When a JWT secret is configured the
// id is the "sub" claim of an HS256 bearer token, checked by JWTVerifier.
// Without a secret the gateway runs in trusted-network mode and takes the id
// from the X-User-ID header; callers that send neither are anonymous and can
// only use unowned conversations.
//
//	mux.Handle("/api/", auth.Middleware(verifier, logger)(api))
//	owner := auth.UserID(r.Context())
//
// Tokens for local use are issued by `sourcing-gateway token --user <id>`.
package auth
