// Package google holds the OAuth2 wiring for the Google Calendar API:
// the authorization-flow configuration and the construction of an
// authenticated Calendar service from a stored credential bundle.
package google
