package queue

type Queue interface {
	SendMessage(msg []byte) error
	RecvMessage() ([]byte, error)
	Close() error
}

// DocMessage reports one downloaded document to the index writer.
// FilingKey is 'shortCik|accessionNumber', Path the local save location.
type DocMessage struct {
	FilingKey string `json:"filing_key"`
	Seq       int    `json:"seq"`
	Path      string `json:"path"`
}
