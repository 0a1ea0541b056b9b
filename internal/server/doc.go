// Package server implements the HTTP boundary: the OAuth handshake
// endpoints, the chat endpoint driving the conversation loop, Kubernetes
// health probes, and the optional Prometheus metrics endpoint.
package server
