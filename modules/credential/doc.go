// Package credential keeps OAuth tokens for connected social accounts
// valid and encrypted.
//
// The Manager is the only component that ever sees cleartext tokens, and
// only transiently: tokens live in Postgres as vault ciphertext, refreshed
// pairs are re-encrypted and persisted before the cleartext access token is
// returned to the caller. A crash between refresh and persist is safe; the
// old refresh token is simply used again on the next attempt.
//
// Refresh failures split two ways. Transient failures (network, 5xx from
// the token endpoint) surface as ErrRefreshFailed and the publish job's
// retry policy handles them. A revoked grant (invalid_grant) is terminal:
// the account is flipped to reauth_required and ErrReauthRequired is
// returned, so jobs fail fast instead of hammering a dead grant.
//
// A periodic sweep (SweepHandler + SweepTaskName on the queue Scheduler)
// refreshes tokens before they expire so publish jobs rarely block on a
// refresh round-trip.
package credential
