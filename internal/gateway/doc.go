// Package gateway wires the sourcing-gateway server together.
//
// # Overview
//
// A Gateway owns the session store, the optional catalog database, the
// progress registry, the tool registry, the model stream and the HTTP
// server. New builds all of them from configuration; NewWithDeps accepts
// prebuilt collaborators and is what tests use.
//
// # HTTP API
//
//	POST   /api/chat                  SSE chat stream
//	GET    /api/conversations         caller's conversations (identity required)
//	GET    /api/conversations/{id}    one conversation with its turns
//	PATCH  /api/conversations/{id}    rename
//	DELETE /api/conversations/{id}    delete
//	GET    /health                    liveness
//	GET    /health/ready              store and catalog reachability
//	GET    /metrics                   Prometheus exposition (when enabled)
//
// # Chat Stream
//
// The chat request body is {"message": "...", "conversation_id": "..."}.
// The X-Conversation-ID request header takes precedence over the body
// field. An unknown, malformed or foreign id starts a new conversation.
// The resolved id is always returned in the X-Conversation-ID response
// header before the first body byte.
//
// Body frames are SSE "data:" lines:
//
//	data: {"progress":{"message":"Searching the catalog for \"bolts\"","tool":"keyword_search","status":"starting",...}}
//	data: {"content":"Here is what I found"}
//	data: {"error":"the assistant is unavailable: ..."}
//	data: [DONE]
//
// Progress frames only appear before the first content frame.
//
// # Identity
//
// With auth.jwt_secret set every /api request needs a bearer token. Without
// it the X-User-ID header is trusted. Conversations owned by another caller
// are reported as not found.
//
// # Lifecycle
//
// Run listens on server.http_addr and blocks until its context is done.
// Shutdown drains in-flight requests, completes open progress channels and
// closes the stores.
package gateway
