// Package handler exposes the registry, the health monitor and the webhook
// hub over a JSON HTTP API.
//
// Every response carries a success flag. Failures are reported as
// {"success": false, "error": "..."} with a status derived from the error
// kind: validation 400, capacity 409, not found 404, anything else 500.
// Validation failures also carry per-field messages under "details".
package handler
