// Package models defines the domain types shared by the login flows, the signed request layer and persistence.
//
//   - [Credential] : renewable identity (user id, session key, refresh material) produced by a login flow
//   - [QRArtifact] : image bytes plus provider-specific identifier for one QR login attempt
//   - [LoginEvent] : canonical state of an in-progress attempt; providers map raw codes onto it
//   - [QRLoginType] : provider selector (qq, wx, mobile)
//   - [LoginAttempt] : persisted record of an attempt and its terminal outcome
//
// A Credential is valid when it is complete (has a session key), refreshable (has refresh key and
// token), or both. [Credential.Validate] rejects anything else so it can never be persisted.
//
// Credentials are only built from a login response ([CredentialFromLogin]) and mutated in place by
// [Credential.Replace] during refresh so that long-lived references stay current.
package models
