// Package binder binds HTTP request data to Go structs.
//
// JSON() returns a strict body binder: application/json only, unknown
// fields rejected, bounded body size. Binding failures come back as
// wrapped sentinel errors (ErrFailedToParseJSON and friends) so handlers
// can translate them into 400 responses without string matching.
package binder
