// Package app defines the opaque application callback the worker
// runtime invokes for every request, and ships the two example handlers
// spec.md's end-to-end scenarios exercise (echo, uppercase).
//
// Grounded on ColDog-messaging/messenger.go's MessageHandler shape,
// narrowed to the spec's raw bytes-in/bytes-out contract.
package app

import "bytes"

// Handler is a pure function from a request payload to a reply payload.
// An error return lets the worker apply spec.md §4.2's failure policy
// (reply with an error-framed payload, or exit) without inspecting
// application bytes to detect failure.
type Handler func(request []byte) ([]byte, error)

// Echo returns the request unchanged. It is the CLI's default app.
func Echo(request []byte) ([]byte, error) {
	out := make([]byte, len(request))
	copy(out, request)
	return out, nil
}

// Uppercase returns the request uppercased by bytes.ToUpper (UTF-8
// aware, not ASCII-only), used by spec.md §8
// scenario 2 (two clients, no cross-delivery).
func Uppercase(request []byte) ([]byte, error) {
	return bytes.ToUpper(request), nil
}
