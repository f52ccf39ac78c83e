// Package cli provides the interactive farm client.
//
// It wires configuration, the API client, the connectivity watcher and an
// interactive REPL. Login opens a sync session for the account (online, with
// an offline fallback on cached credentials); every command then works on the
// local store and the session pushes changes in the background.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
