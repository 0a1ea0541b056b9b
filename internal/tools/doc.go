// Package tools defines the model-facing tool surface: a static registry
// mapping tool names to JSON-schema definitions and handlers bound to an
// authenticated calendar client.
//
// Handlers absorb every fault into the returned payload so a failing tool
// never breaks the conversation loop; the model relays the error message
// to the user instead.
package tools
