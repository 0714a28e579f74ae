package storage

import (
	"context"
	"time"

	"github.com/dshills/hybridsearch/pkg/types"
)

// Storage persists indexed documents so restarts keep the index
type Storage interface {
	// Document operations
	SaveDocuments(ctx context.Context, docs []*types.Document) error
	DeleteDocuments(ctx context.Context, ids []string) error
	LoadDocuments(ctx context.Context) ([]*types.Document, error)
	FileHashes(ctx context.Context) (map[string][32]byte, error)

	// Metadata operations
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error

	// Status operations
	Stats(ctx context.Context) (*Stats, error)

	// Database operations
	Close() error
}

// Metadata keys
const (
	MetaEmbeddingModel = "embedding_model" // provider/model/dimensions of stored vectors
)

// Stats describes the persisted index
type Stats struct {
	Documents     int
	Chunks        int
	Embeddings    int
	SizeBytes     int64
	SchemaVersion string
	BuildMode     string
	LastIndexedAt time.Time
}
