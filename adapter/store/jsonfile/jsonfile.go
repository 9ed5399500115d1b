package jsonfile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/bucket"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/store"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/domain/filing"
)

const FileName = "filing_storage.json"

// jsonFile keeps the whole index in memory and rewrites the backing
// file on every mutating call. Durability comes from writing a temp
// file and renaming it over the old one, so a crash mid write leaves
// the previous state intact. Not safe for concurrent processes, one
// mutex serializes everything within this one.
type jsonFile struct {
	path    string
	mutex   sync.Mutex
	records map[string]*filing.Filing
}

// New loads the index file next to the download root or creates an
// empty one if none exists yet.
func New(dir string) (*jsonFile, error) {
	s := &jsonFile{
		path:    filepath.Join(dir, FileName),
		records: make(map[string]*filing.Filing),
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		// first run, create the empty file right away
		if err := s.persist(); err != nil {
			return nil, err
		}
		return s, nil
	}

	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *jsonFile) Close() error {
	return nil
}

func (s *jsonFile) Get(key string) (*filing.Filing, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	fil := s.records[key]
	if fil == nil {
		return nil, store.NotFoundErr
	}
	// hand out a copy so callers can not alias index owned state
	return fil.Copy(), nil
}

// Upsert merges filings by key. Inserting a known key is a no-op merge
// which never drops documents or known local paths. The file is
// rewritten once per call, so bulk inserts are preferable.
func (s *jsonFile) Upsert(fils ...*filing.Filing) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, fil := range fils {
		key := fil.Key()
		got := s.records[key]
		if got == nil {
			s.records[key] = fil.Copy()
			continue
		}
		got.Merge(fil)
	}

	return s.persist()
}

// UpdateDocument replaces the stored document with the same sequence
// number. This is the one path that records a download location.
func (s *jsonFile) UpdateDocument(key string, doc *filing.Document) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	fil := s.records[key]
	if fil == nil {
		return store.NotFoundErr
	}
	got := fil.Document(doc.Seq)
	if got == nil {
		return store.NotFoundErr
	}
	// an update without a path must not clear a recorded location
	path := got.LocalPath
	*got = *doc
	if got.LocalPath == "" {
		got.LocalPath = path
	}

	return s.persist()
}

// AllDocuments flattens every record's document list, keyed by
// 'shortCik|accessionNumber|seq'.
func (s *jsonFile) AllDocuments() (map[string]*filing.Document, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	docs := make(map[string]*filing.Document)
	for _, fil := range s.records {
		for _, doc := range fil.Documents {
			d := *doc
			docs[fil.DocumentKey(doc.Seq)] = &d
		}
	}
	return docs, nil
}

// Reconcile repairs an index that was rebuilt or partially lost after
// documents already landed on disk. It does not detect the reverse
// case of indexed files that were deleted since.
func (s *jsonFile) Reconcile(b bucket.Bucket) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// map of file name to bucket key at the deepest level
	found := make(map[string]string)
	err := b.Walk(func(key string) error {
		found[filepath.Base(key)] = key
		return nil
	})
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, fil := range s.records {
		for _, doc := range fil.Documents {
			if doc.LocalPath != "" {
				continue
			}
			if key, ok := found[doc.Name]; ok {
				doc.LocalPath = key
				repaired++
			}
		}
	}

	if repaired < 1 {
		return 0, nil
	}
	return repaired, s.persist()
}

// persist rewrites the whole file; callers must hold the mutex. The
// JSON encoder sorts map keys, which keeps the file diff friendly.
func (s *jsonFile) persist() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0666); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
