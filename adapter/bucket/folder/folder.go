package folder

import (
	"io/fs"
	"os"
	"path/filepath"
)

type folder struct {
	path string
}

func New(path string) *folder {
	return &folder{path: path}
}

func (f *folder) Root() string {
	return f.path
}

func (f *folder) GetObject(key string) ([]byte, error) {
	return os.ReadFile(filepath.Join(f.path, filepath.FromSlash(key)))
}

// PutObject creates the parent directories of nested keys as needed.
func (f *folder) PutObject(key string, data []byte) error {
	path := filepath.Join(f.path, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0777)
}

func (f *folder) Walk(fn func(key string) error) error {
	return filepath.WalkDir(f.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.path, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel))
	})
}
