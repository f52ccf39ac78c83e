// Package client talks to the sync server.
//
// Client covers accounts (Register, Login) and reachability (Ping);
// RemoteStore covers the document operations the sync core needs:
// Upsert, Delete, BatchCommit and Subscribe. GRPCClient implements both. It
// injects the access token on every call, refreshes an expired token once
// and retries, and maps gRPC status codes to the sentinel errors of this
// package and internal/common, so callers can match with errors.Is:
//
//	codes.Unauthenticated, codes.PermissionDenied -> ErrUnauthorized
//	codes.Unavailable, codes.DeadlineExceeded     -> ErrUnavailable
//
// Subscriptions run in their own goroutine and reconnect with capped
// exponential backoff.
package client
