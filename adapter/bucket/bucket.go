package bucket

// Bucket stores document bytes under slash separated keys, e.g.
// '320193/0001628280-16-020309/aapl-20160924.htm'.
type Bucket interface {
	GetObject(key string) ([]byte, error)
	PutObject(key string, data []byte) error
	// Walk visits every stored object key at the deepest level
	Walk(fn func(key string) error) error
}
