// Package server provides HTTP routing, middleware, and the browser-facing login routes.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] runs in the order it was added: the first one added is the outermost wrapper.
//
// The [BasicRouter] implementation registers "METHOD /path" patterns on an [http.ServeMux], which
// answers a known path with the wrong method with 405.
//
// # Login Routes
//
// [LoginHandler] serves JSON endpoints:
//   - POST /login/qrcode?type=qq|wx|mobile : starts an attempt, returns its id and the base64 QR image
//   - GET /login/qrcode/status?id= : current event; QQ and WX attempts are polled once per request
//   - GET /credential : the stored credential's id, login type, expiry and refreshability
//   - DELETE /credential[?musicid=] : removes a stored credential
//
// Confirmed logins are persisted through the [CredentialStore].
//
// # Handler Interface
//
// A [Handler] lists its [Route] values and the router registers each one, so route definitions stay
// next to the code serving them.
package server
