// Package main hosts the cogcomfy CLI entrypoint and command graph.
//
// The Cobra-based command tree wraps the predictor: one-shot predictions from
// the terminal, a long-running HTTP prediction endpoint, environment checks
// and configuration scaffolding. It centralizes configuration resolution and
// logger construction so subcommands only translate flags into requests.
//
// Keep this package lean: add behaviour to the internal packages first, then
// surface it through a flag or command here.
package main
