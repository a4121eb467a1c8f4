// Package loremaster is a stateless, read-only question answering
// service over tabletop campaign lore.
//
// The service exposes a single REST endpoint that accepts a natural
// language question about a campaign, plans a retrieval strategy with
// an LLM, gathers evidence from semantic search over session notes and
// (when the question calls for it) from the campaign's property graph,
// and synthesizes a cited answer.
//
// # Quick Start
//
// Install the binary:
//
//	go install github.com/tavernkeep/loremaster/cmd/loremaster@latest
//
// Start the server:
//
//	loremaster serve --config config.yaml
//
// Validate a configuration file, or emit its JSON Schema for editor
// tooling:
//
//	loremaster validate --config config.yaml
//	loremaster schema
//
// # Architecture
//
// A query flows through a fixed pipeline:
//
//	Client → HTTP server → Orchestrator → Planner → Collector → [Cypher generator → Graph] → Synthesizer
//
// Every stage is read-only: the service never writes to the vector
// stores, the graph, or the metadata database, and generated Cypher is
// statically validated before execution.
//
// The packages under pkg/ can also be used as a library:
//
//	import (
//	    "github.com/tavernkeep/loremaster/pkg/assistant"
//	    "github.com/tavernkeep/loremaster/pkg/graph"
//	    "github.com/tavernkeep/loremaster/pkg/vector"
//	)
package loremaster
