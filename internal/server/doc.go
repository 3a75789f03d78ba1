// Package server implements the HTTP surface of cdnbox.
//
// Routes:
//   - GET /login.html and POST /login: password login issuing the session cookie
//   - POST /webhook: signed redeploy callback (fetch, reset, detached restart)
//   - GET|HEAD /*: directory listings and files under the data directory
//
// Every route except the first three requires a valid session cookie. An
// unauthenticated request for "/" gets the login page; any other path gets
// 401.
//
// The server integrates with other packages:
//   - internal/session: token issuance and verification
//   - internal/webhook: signature verification and the redeploy trigger
//   - internal/files: sandboxed path resolution and listings
//   - internal/history: SQLite redeploy history (optional)
//   - internal/forge: GitHub commit statuses (optional)
package server
