// Package memory provides a persistent semantic memory store.
//
// The store keeps short textual facts ("memories"), indexes them by meaning
// via embedding vectors, retrieves the most relevant ones for a query, and
// keeps the collection bounded through importance-aware rotation.
//
// Architecture:
//   - Store: record persistence (memory.json for the local implementation)
//   - Index: embedding vectors and cosine similarity search (embeddings.json)
//   - Searcher: query embedding, candidate ranking, access recording
//   - RotationPolicy: scoring and eviction once the store exceeds its cap
//   - Manager: joint operations across Store and Index, plus the
//     Initialize/Finalize surface consumed by the session layer
//
// Collaborators:
//   - Embedder: text-to-vector conversion (mock for tests, ONNX for local,
//     API-based for production)
//   - Extractor: distills memory drafts from a conversation transcript
//
// Every id present in the Store has exactly one vector of the configured
// dimension in the Index, and vice versa. Compound operations preserve that
// bijection; partial-write inconsistencies are detected during search and
// healed by Manager.Repair.
package memory
