// Package llm defines the chat-completion collaborator the orchestrator uses
// to turn structured scan results into prose. Provider adapters live in
// subpackages.
package llm
