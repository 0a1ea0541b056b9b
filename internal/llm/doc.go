// Package llm provides the chat-completion layer: canonical transcript
// messages, named OpenAI-compatible providers, and an ordered fallback
// chain across them.
package llm
