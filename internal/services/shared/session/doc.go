// Package session defines the shared session record exchanged between the
// authority and coordinators, plus the action payloads that mutate it.
//
// A Session value is always treated as a complete snapshot: readers replace
// their cached copy wholesale and never merge individual fields.
package session
