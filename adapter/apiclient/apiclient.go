package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const (
	SearchEndpoint = "https://efts.sec.gov/LATEST/search-index"
	BrowseEndpoint = "https://www.sec.gov/cgi-bin/browse-edgar"
	ArchivesBase   = "https://www.sec.gov/Archives/edgar/data"
	RegistryUrl    = "https://www.sec.gov/files/company_tickers_exchange.json"
	WebBase        = "https://www.sec.gov"
)

// Client covers the three EDGAR endpoint families plus the bulk firm
// registry. Page and document fetches return raw bytes, the JSON
// endpoints return decoded structures.
type Client interface {
	SearchFilings(ctx context.Context, payload *SearchPayload) (*SearchResult, error)
	GetPage(ctx context.Context, url string) ([]byte, error)
	GetRegistry(ctx context.Context) (*Registry, error)
	GetDocument(ctx context.Context, url string) ([]byte, error)
}

// SearchPayload is the request body of the full text search endpoint.
type SearchPayload struct {
	DateRange  string   `json:"dateRange"`
	StartDate  string   `json:"startdt"`
	EndDate    string   `json:"enddt"`
	EntityName string   `json:"entityName,omitempty"`
	Forms      []string `json:"forms,omitempty"`
	From       int      `json:"from"`
	Query      string   `json:"q"`
}

type SearchResult struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []*SearchHit `json:"hits"`
	} `json:"hits"`
	// page size must be read from the response, not hard coded
	Query struct {
		Size int `json:"size"`
	} `json:"query"`
	Error *SearchError `json:"error"`
}

type SearchHit struct {
	// Id has the form 'accessionNumber:primaryDocument'
	Id     string `json:"_id"`
	Source struct {
		Ciks     []string `json:"ciks"`
		FormType string   `json:"file_type"`
		Form     string   `json:"form"`
		FileDate string   `json:"file_date"`
	} `json:"_source"`
}

type SearchError struct {
	RootCause []struct {
		Reason string `json:"reason"`
	} `json:"root_cause"`
}

// Registry mirrors company_tickers_exchange.json, a column oriented
// table with a fields header and one row per registered firm.
type Registry struct {
	Fields []string        `json:"fields"`
	Data   [][]interface{} `json:"data"`
}

type RegistryEntry struct {
	Cik      string
	Name     string
	Ticker   string
	Exchange string
}

// Entries converts the column oriented registry into typed rows,
// preserving registry order.
func (r *Registry) Entries() ([]RegistryEntry, error) {
	idx := make(map[string]int)
	for i, f := range r.Fields {
		idx[f] = i
	}
	for _, f := range []string{"cik", "name", "ticker", "exchange"} {
		if _, ok := idx[f]; !ok {
			return nil, errors.New(fmt.Sprintf("Registry field '%s' missing", f))
		}
	}

	entries := make([]RegistryEntry, 0, len(r.Data))
	for _, row := range r.Data {
		if len(row) < len(r.Fields) {
			continue
		}
		entries = append(entries, RegistryEntry{
			Cik:      cell(row[idx["cik"]]),
			Name:     cell(row[idx["name"]]),
			Ticker:   cell(row[idx["ticker"]]),
			Exchange: cell(row[idx["exchange"]]),
		})
	}
	return entries, nil
}

// the registry stores ciks as JSON numbers and everything else as strings
func cell(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// RemoteError is returned when EDGAR responds with a non 2xx status or
// a structured error body after the retry budget is exhausted.
type RemoteError struct {
	Cause string
	Err   error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Remote service error: %s: %s", e.Cause, e.Err.Error())
	}
	return fmt.Sprintf("Remote service error: %s", e.Cause)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}
