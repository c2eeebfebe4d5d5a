// Package domain applies participant actions to the authoritative session
// record and simulates round outcomes.
//
// Functions here are pure: they take a session value and return a new one.
// Persistence and concurrency control live in the storage layer.
package domain
