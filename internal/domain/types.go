package domain

import "time"

// Upload is a user-supplied file held in memory only while an index is built.
type Upload struct {
	Filename string
	Data     []byte
}

// Size returns the byte length of the upload.
func (u Upload) Size() int { return len(u.Data) }

// Document represents the plain text extracted from a single upload.
type Document struct {
	ID       string
	Filename string
	Format   string
	Content  string
	Pages    int
}

// Chunk is a contiguous span of a document used as the unit of retrieval.
type Chunk struct {
	DocumentID string
	ChunkID    string
	Source     string
	Text       string
	Index      int
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a session transcript. Messages are never mutated
// after being appended.
type Message struct {
	Role      Role
	Content   string
	Error     bool
	CreatedAt time.Time
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
