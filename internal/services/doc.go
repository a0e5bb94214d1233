// Package services implements the signed session layer every call to the music service goes through.
//
// # Sessions
//
// A [Session] owns an HTTP client with a cookie jar, a fixed user agent and referer, a device
// fingerprint obtained once from a [Fingerprinter], the endpoint configuration and an optional
// [models.Credential]. Sessions are scoped to a unit of work:
//
//   - [Scope] creates a session, publishes it into the context and closes it when the callback returns
//   - [NewTask] marks the root of a task; [Current] below it lazily builds one anonymous session for that task only
//   - [Current] outside any task returns [ErrNoSession]
//
// Functions that take a *Session accept nil and fall back to [Resolve].
//
// # Signed Requests
//
// [Session.Call] wraps a module/method/params triple in an envelope with the common block
// (client version, fingerprint, credential fields), posts it to the RPC endpoint and classifies
// the embedded result code:
//   - 0 : success, [Result.Data] carries the payload
//   - expiry family : [CredentialExpiredError], regardless of [Request.IgnoreCode]
//   - anything else : [ResponseCodeError], or the raw [Result] when IgnoreCode is set
//
// When signing is enabled the request goes to the encrypted endpoint with a [Sign] query parameter.
//
// # Error Handling
//
// Typed errors match shared sentinels through errors.Is:
//   - [CredentialExpiredError] : [shared.ErrTokenExpired]
//   - [ResponseCodeError] : [shared.ErrAPIRequest]
//   - HTTP status >= 400 : [shared.ErrAPIRequest]
package services
