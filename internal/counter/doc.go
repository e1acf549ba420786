// Package counter is the application service behind the liasse counter. It
// loads a denomination's state from storage, applies one bundle-builder or
// ledger operation, saves the result, and returns a fresh snapshot.
package counter
