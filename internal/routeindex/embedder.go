package routeindex

import "context"

// Embedder is the C2/C3 external collaborator (spec.md §6): it turns a
// routing row's embedding-source text into a vector. Production wiring is
// the kernel's own embed_texts JSON-RPC method (served by internal/transport
// over stdio or SSE); tests use a deterministic fake.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}
