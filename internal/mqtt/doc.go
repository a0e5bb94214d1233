// Package mqtt is a minimal MQTT 5 subscriber running over a WebSocket transport.
//
// It covers only what the mobile QR login needs: CONNECT with an auth method and user
// properties, redirect handling, one SUBSCRIBE, and an ordered pull-based stream of inbound
// PUBLISH messages.
//
// # Redirects
//
// A CONNACK with reason 0x9C or 0x9D and a server reference is a [RedirectError]. [Client.Connect]
// reconnects on the handshake path suffixed with the reference, at most MaxRedirects times;
// one more redirect fails with [ErrTooManyRedirects]. Other refusals fail with [ConnectError].
//
// # Lifetime
//
// Callers defer [Client.Close] right after [New]. Close is idempotent and returns only after the
// read and keep-alive goroutines have exited.
package mqtt
