// Package webhook authenticates redeploy callbacks from the source forge.
//
// Deliveries carry an X-Hub-Signature-256 header holding "sha256=" followed by
// the hex HMAC-SHA256 of the raw request body keyed with the shared deploy
// secret. The signature is checked over the exact bytes received; parsing the
// body happens only afterwards and only for logging.
package webhook
