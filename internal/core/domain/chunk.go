package domain

// Chunk is an immutable unit of retrievable text. Every chunk belongs to
// exactly one document, which belongs to exactly one tenant (chatbot).
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	TenantID   string         `json:"tenant_id"`
	Content    string         `json:"content"`
	Embedding  []float32      `json:"embedding,omitempty"`
	ChunkIndex int            `json:"chunk_index"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// IngestRequest is one document to split, embed and index.
type IngestRequest struct {
	TenantID   string         `json:"tenant_id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
