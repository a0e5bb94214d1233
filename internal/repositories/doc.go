// Package repositories implements SQLite persistence for credentials and login attempts.
//
// Key Implementations:
//   - [CredentialRepository] : one row per music user id, payload stored as the credential's JSON
//   - [LoginAttemptRepository] : [models.Repository] over the login attempt history
//
// Not-found conditions wrap [shared.ErrCredentialNotFound] so callers can branch with errors.Is.
package repositories
