// Package memory gives agents persistent, semantically searchable memory
// backed by a Goodmem-style memory service.
//
// Every surface first resolves a concrete space and embedder from its
// Config, once per instance:
//   - Resolver: space by id, by name, or by a default name derived from the
//     calling surface and user; embedder pinned, first listed, or
//     auto-created
//   - Capture: writes turn text and supported attachments into the space
//   - Recall: semantic retrieval enriched with stored metadata
//
// Surfaces:
//   - Plugin: automatic capture and prompt augmentation around each turn
//   - Service: whole-session storage and search
//   - tools package: explicit save and fetch actions for the agent
//
// Backends:
//   - store/goodmem: HTTP client of the remote service
//   - store/chromem: in-process backend on chromem-go for local runs and tests
package memory
