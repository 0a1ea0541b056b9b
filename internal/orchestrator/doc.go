// Package orchestrator drives one user turn of the assistant: a first
// completion that may request tools, in-order tool dispatch, and a closing
// completion with tools disabled.
package orchestrator
