package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/crawl-scheduler/pkg/models"
)

// ResultWriter persists classification results
type ResultWriter interface {
	// PutResult stores rec under its URL, replacing any earlier result for the same URL
	// Returns true if the URL had no stored result before
	PutResult(rec models.ScoredURL) (isNew bool, err error)
}

// ResultReader looks up stored results
type ResultReader interface {
	// GetResult returns the stored result for rawURL, and whether one exists
	GetResult(rawURL string) (*models.ScoredURL, bool, error)

	// CountByDisposition scans the store and tallies results per disposition
	CountByDisposition(ctx context.Context) (map[models.Disposition]int, error)

	// ResultCount returns the number of distinct URLs stored
	ResultCount() int
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// WriteResultsLog writes every stored result as one JSON line to filePath
	WriteResultsLog(ctx context.Context, filePath string) error

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// ResultStore combines all store interfaces for components that need full access
type ResultStore interface {
	ResultWriter
	ResultReader
	StoreAdmin
}
