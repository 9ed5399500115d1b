package download

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/apiclient"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/bucket"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/logger"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/queue"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/store"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/domain/filing"
)

const defaultWorkers = 4

// Service downloads the documents of indexed filings into the bucket.
// Fetches run on a bounded worker pool, index mutations are serialized
// through a single writer consuming the queue.
type Service struct {
	store   store.Store
	bucket  bucket.Bucket
	client  apiclient.Client
	queue   queue.Queue
	logger  logger.Logger
	workers int
}

func New(
	st store.Store,
	b bucket.Bucket,
	c apiclient.Client,
	q queue.Queue,
	l logger.Logger,
	workers int,
) *Service {
	if workers < 1 {
		workers = defaultWorkers
	}
	return &Service{store: st, bucket: b, client: c, queue: q, logger: l, workers: workers}
}

// Result classifies every document of a batch. Entries are document
// keys 'shortCik|accessionNumber|seq'. Previous documents were already
// on disk and skipped, Failed ones did not abort the batch.
type Result struct {
	New      []string
	Previous []string
	Failed   []string
}

type job struct {
	filingKey string
	docKey    string
	doc       *filing.Document
	path      string
}

// DownloadFilings fetches every document of the given filings whose
// local path is unset and records the new paths through the store. A
// failed document is logged and listed, the rest of the batch still
// runs.
func (s *Service) DownloadFilings(ctx context.Context, fils []*filing.Filing) (*Result, error) {

	if err := s.store.Upsert(fils...); err != nil {
		return nil, err
	}

	result := &Result{}
	jobs := []job{}
	for _, fil := range fils {
		for _, doc := range fil.Documents {
			if doc.LocalPath != "" {
				result.Previous = append(result.Previous, fil.DocumentKey(doc.Seq))
				continue
			}
			jobs = append(jobs, job{
				filingKey: fil.Key(),
				docKey:    fil.DocumentKey(doc.Seq),
				doc:       doc,
				path:      fmt.Sprintf("%s/%s/%s", fil.ShortCik, fil.Accession.String(), doc.Name),
			})
		}
	}

	var mutex sync.Mutex
	feed := make(chan job)

	var workers sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for j := range feed {
				if err := s.fetch(ctx, j); err != nil {
					s.logger.Log(fmt.Sprintf("Download error for '%s': %s", j.docKey, err.Error()))
					mutex.Lock()
					result.Failed = append(result.Failed, j.docKey)
					mutex.Unlock()
					continue
				}
				mutex.Lock()
				result.New = append(result.New, j.docKey)
				mutex.Unlock()
			}
		}()
	}

	// single writer so index mutations never race
	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		for {
			msg, err := s.queue.RecvMessage()
			if err != nil {
				return
			}
			dm := &queue.DocMessage{}
			if err := json.Unmarshal(msg, dm); err != nil {
				s.logger.Log(fmt.Sprintf("Serialization error: %s", err.Error()))
				continue
			}
			if err := s.record(dm); err != nil {
				s.logger.Log(fmt.Sprintf("Index error for '%s|%d': %s", dm.FilingKey, dm.Seq, err.Error()))
			}
		}
	}()

	for _, j := range jobs {
		select {
		case <-ctx.Done():
			close(feed)
			workers.Wait()
			s.queue.Close()
			writer.Wait()
			return result, ctx.Err()
		case feed <- j:
		}
	}
	close(feed)
	workers.Wait()

	// close the queue so the writer drains and exits
	s.queue.Close()
	writer.Wait()

	return result, nil
}

// fetch downloads one document into the bucket and reports it to the
// index writer.
func (s *Service) fetch(ctx context.Context, j job) error {

	data, err := s.client.GetDocument(ctx, j.doc.Url)
	if err != nil {
		return err
	}
	if err := s.bucket.PutObject(j.path, data); err != nil {
		return err
	}

	msg, err := json.Marshal(&queue.DocMessage{
		FilingKey: j.filingKey,
		Seq:       j.doc.Seq,
		Path:      j.path,
	})
	if err != nil {
		return err
	}
	return s.queue.SendMessage(msg)
}

// record sets the local path of one document in the store.
func (s *Service) record(dm *queue.DocMessage) error {

	fil, err := s.store.Get(dm.FilingKey)
	if err != nil {
		return err
	}
	doc := fil.Document(dm.Seq)
	if doc == nil {
		return store.NotFoundErr
	}
	doc.LocalPath = dm.Path
	return s.store.UpdateDocument(dm.FilingKey, doc)
}
