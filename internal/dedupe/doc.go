// Package dedupe guards against double submission of the same send.
//
// Callers attach an idempotency key to a send and Claim it before dispatch;
// a second Claim of the same key within the TTL fails.
package dedupe
