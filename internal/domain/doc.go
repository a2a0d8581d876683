// Package domain defines the core business types for the Morsel messaging
// platform: campaigns, workflow entries, contacts, sent-phone records, and
// their status enums.
//
// Everything here is a plain value object — the shared language between
// handlers, services, repositories, and the campaign executor. The package
// imports nothing from internal/, and no struct carries a *sql.DB, an
// http.Request, or a context.Context. Tags, enum constants, and pure
// validation methods are as far as behavior goes.
package domain
