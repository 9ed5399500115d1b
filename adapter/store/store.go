package store

import (
	"errors"

	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/bucket"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/domain/filing"
)

// Store is the deduplicating filing index: a durable mapping from
// 'shortCik|accessionNumber' keys to filings and their documents.
// Upsert merges, it never overwrites a known document local path;
// UpdateDocument is the only operation that records one.
type Store interface {
	Close() error
	Get(key string) (*filing.Filing, error)
	Upsert(fils ...*filing.Filing) error
	UpdateDocument(key string, doc *filing.Document) error
	AllDocuments() (map[string]*filing.Document, error)
	// Reconcile matches indexed documents without a local path against
	// the objects present in the bucket and records the found paths.
	// It returns how many documents were repaired.
	Reconcile(b bucket.Bucket) (int, error)
}

var DuplicateErr error = errors.New("Duplicate key error")
var NotFoundErr error = errors.New("Key not found error")
