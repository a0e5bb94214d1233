// Package tasks runs login attempts to completion and keeps stored credentials usable, with
// real-time progress reporting.
//
// # Core Operations
//
//  1. [QRLoginTask.Run] : QR login from acquisition to a terminal event
//     - Acquires the QR artifact and optionally writes the image to disk
//     - Polls QQ and WX status through a rate limiter, consumes the push stream for mobile
//     - Persists the credential on confirmation and records the attempt
//
//  2. [Keeper.Ensure] : load, check, refresh and persist a stored credential
//     - Serialized per music id
//     - Fails with shared.ErrTokenExpired when the credential cannot be renewed
//
// # Progress Reporting
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data.
// Updates use select with default to prevent blocking.
package tasks
