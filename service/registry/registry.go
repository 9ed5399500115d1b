package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/apiclient"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/logger"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/domain/filing"
)

var NotFoundErr error = errors.New("Firm not found error")

// Service resolves a firm from a cik, ticker or approximate name
// against the bulk registry. The registry is fetched at most once per
// process, concurrent callers share the result.
type Service struct {
	client apiclient.Client
	logger logger.Logger

	once    sync.Once
	entries []apiclient.RegistryEntry
	fetch   error
}

func New(c apiclient.Client, l logger.Logger) *Service {
	return &Service{client: c, logger: l}
}

func (s *Service) load(ctx context.Context) error {
	s.once.Do(func() {
		reg, err := s.client.GetRegistry(ctx)
		if err != nil {
			s.fetch = err
			return
		}
		s.entries, s.fetch = reg.Entries()
	})
	return s.fetch
}

// ResolveCik looks a firm up by its central index key, leading zeros
// are ignored.
func (s *Service) ResolveCik(ctx context.Context, cik string) (*filing.Firm, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}

	want := strings.TrimLeft(cik, "0")
	for _, e := range s.entries {
		if strings.TrimLeft(e.Cik, "0") == want {
			return toFirm(e), nil
		}
	}
	return nil, NotFoundErr
}

// ResolveTicker looks a firm up by its exchange ticker, case does not
// matter.
func (s *Service) ResolveTicker(ctx context.Context, ticker string) (*filing.Firm, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}

	want := strings.ToUpper(strings.TrimSpace(ticker))
	for _, e := range s.entries {
		if strings.ToUpper(e.Ticker) == want {
			return toFirm(e), nil
		}
	}
	return nil, NotFoundErr
}

// ResolveName picks the registry entry whose name is most similar to
// the given one. Ties keep the earlier registry entry. The runner up
// candidates are logged so a surprising match can be traced.
func (s *Service) ResolveName(ctx context.Context, name string) (*filing.Firm, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	if len(s.entries) < 1 {
		return nil, NotFoundErr
	}

	type candidate struct {
		entry apiclient.RegistryEntry
		score float64
	}

	want := normalize(name)
	cands := make([]candidate, 0, len(s.entries))
	for _, e := range s.entries {
		cands = append(cands, candidate{entry: e, score: similarity(want, normalize(e.Name))})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})

	top := cands
	if len(top) > 5 {
		top = top[:5]
	}
	for _, c := range top {
		s.logger.Log(fmt.Sprintf(
			"Registry candidate '%s' (cik %s) score %.2f for '%s'",
			c.entry.Name, c.entry.Cik, c.score, name,
		))
	}

	return toFirm(cands[0].entry), nil
}

func toFirm(e apiclient.RegistryEntry) *filing.Firm {
	return &filing.Firm{
		Cik:      strings.TrimLeft(e.Cik, "0"),
		Name:     e.Name,
		Ticker:   e.Ticker,
		Exchange: e.Exchange,
	}
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// similarity is the Levenshtein distance scaled into [0, 1] where 1
// means equal strings.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(distance(a, b))/float64(longest)
}

func distance(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
