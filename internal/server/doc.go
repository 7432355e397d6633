// Package server runs the temporary localhost HTTP server that receives the
// OAuth2 authorization callback during the interactive Spotify login flow.
//
// The [OAuthHandler] validates the state parameter (CSRF protection), accepts
// exactly one callback, and delivers the authorization code through a channel.
// Exchanging the code for a token and persisting it is the service adapter's
// job; the server never touches credentials.
//
// [CallbackServer] wraps the handler in an [net/http.Server] bound to the
// redirect URI's host and port. The CLI starts it, opens the browser, waits
// for the code (or a timeout), and shuts the server down.
package server
