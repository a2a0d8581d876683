// Package api exposes the REST surface of the messaging server: campaign
// CRUD, lifecycle control (start/pause/resume/stop), workflow inspection,
// progress reporting, pacing settings, feed composition, and health checks.
//
// All handlers speak JSON and resolve the acting owner through the request
// context (see owner_context.go). Responses use the envelope helpers in
// internal/pkg/httputil so error shapes stay uniform across endpoints.
package api
