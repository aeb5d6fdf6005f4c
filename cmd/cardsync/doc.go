// Package main hosts the cardsync CLI entrypoint and command graph.
//
// The Cobra command tree loads configuration once, builds a single
// syncengine.Engine for the invocation, and hands it to the subcommand. The
// engine owns the authentication session, request cache, content client,
// and snapshot store, so commands only translate flags into engine calls and
// render the results as tables or JSON.
package main
