// Package workflow parses and mutates ComfyUI API-format workflow documents.
//
// A document maps node ids to node descriptors. Node bodies are kept as raw
// JSON so that anything this package does not rewrite survives a round trip
// unchanged.
package workflow
