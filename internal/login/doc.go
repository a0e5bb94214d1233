// Package login implements the QR and SMS login flows and the credential lifecycle.
//
// # QR Flows
//
// A [Flow] acquires a [models.QRArtifact] with [Flow.GetQRCode] and then follows it:
//   - QQ : [Flow.CheckQRCode] polls ptqrlogin; on success the scan signature is traded for p_skey,
//     p_skey for an OAuth code, and the code for a credential
//   - WX : [Flow.CheckQRCode] long-polls; a client timeout is reported as [models.AwaitingScan]
//   - Mobile : [Flow.WatchMobile] subscribes to the push service and yields events from a [MobileWatcher]
//
// Provider codes are classified by [ClassifyCode]. Only [models.Confirmed] carries a credential and
// callers stop at the first terminal event.
//
// # Lifecycle
//
// [CheckExpired] and [Refresh] take the credential explicitly. A refresh the service rejects is
// reported as false rather than as an error, and leaves the credential unchanged.
//
// # Error Handling
//
// Flow failures are [LoginError] values tagged with the flow name (QQLogin, WXLogin, MobileLogin,
// PhoneLogin). Transport failures are returned wrapped.
package login
