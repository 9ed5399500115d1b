package filing

import (
	"strconv"
	"strings"
	"time"
)

// filing form types we support downloading
var SupportedForms = []string{
	"4",
	"8-K",
	"10-K",
	"10-Q",
	"13F-HR",
	"13F-NT",
	"DEF 14A",
	"S-1",
	"SC 13G",
	"SD",
}

// IsSupportedForm reports whether the form type can be requested.
// Amendments ('10-K/A') count as their base form.
func IsSupportedForm(form string) bool {
	base := strings.TrimSuffix(form, "/A")
	for _, v := range SupportedForms {
		if v == base {
			return true
		}
	}
	return false
}

type Firm struct {
	Cik      string
	Name     string
	Ticker   string
	Exchange string
}

// Filing is one EDGAR submission. ShortCik is the primary firm of the
// filing and may differ from the cik component embedded in the accession
// number, e.g. for ownership filings submitted by a filing agent.
type Filing struct {
	Accession     AccessionNumber `json:"accession"`
	ShortCik      string          `json:"short_cik"`
	Form          string          `json:"form"`
	FilingDate    time.Time       `json:"filing_date"`
	ReportDate    time.Time       `json:"report_date"`
	DetailPageUrl string          `json:"detail_page_url"`

	// urls discovered on the detail page
	FullSubmissionUrl string `json:"full_submission_url"`
	DetailDocUrl      string `json:"detail_doc_url"`
	InstanceDocUrl    string `json:"instance_doc_url"`
	ExhibitUrl        string `json:"exhibit_url"`

	// urls constructed by convention, never verified to exist
	XbrlZipUrl string `json:"xbrl_zip_url"`
	XlsxUrl    string `json:"xlsx_url"`

	Documents []*Document `json:"documents"`
}

// Document is one file inside a filing. Its identity key within the
// filing is the sequence number. An empty LocalPath means the document
// has not been downloaded yet.
type Document struct {
	Seq         int    `json:"seq"`
	Description string `json:"description"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Size        int64  `json:"size"`
	Url         string `json:"url"`
	Extension   string `json:"extension"`
	LocalPath   string `json:"local_path"`
}

// Key builds the unique storage key 'shortCik|accessionNumber'.
func (f *Filing) Key() string {
	return f.ShortCik + "|" + f.Accession.String()
}

// DocumentKey builds the key 'shortCik|accessionNumber|seq'.
func (f *Filing) DocumentKey(seq int) string {
	return f.Key() + "|" + strconv.Itoa(seq)
}

// Document returns the document with the given sequence number or nil.
func (f *Filing) Document(seq int) *Document {
	for _, d := range f.Documents {
		if d.Seq == seq {
			return d
		}
	}
	return nil
}

// Merge folds the other filing into f. Identity fields are never
// changed, unset metadata is filled in and documents are merged by
// sequence number. A document's known local path is never overwritten,
// so merging the same resolution result twice is a no-op.
func (f *Filing) Merge(other *Filing) {
	if f.Form == "" {
		f.Form = other.Form
	}
	if f.FilingDate.IsZero() {
		f.FilingDate = other.FilingDate
	}
	if f.ReportDate.IsZero() {
		f.ReportDate = other.ReportDate
	}
	if f.DetailPageUrl == "" {
		f.DetailPageUrl = other.DetailPageUrl
	}
	if f.FullSubmissionUrl == "" {
		f.FullSubmissionUrl = other.FullSubmissionUrl
	}
	if f.DetailDocUrl == "" {
		f.DetailDocUrl = other.DetailDocUrl
	}
	if f.InstanceDocUrl == "" {
		f.InstanceDocUrl = other.InstanceDocUrl
	}
	if f.ExhibitUrl == "" {
		f.ExhibitUrl = other.ExhibitUrl
	}
	if f.XbrlZipUrl == "" {
		f.XbrlZipUrl = other.XbrlZipUrl
	}
	if f.XlsxUrl == "" {
		f.XlsxUrl = other.XlsxUrl
	}
	for _, doc := range other.Documents {
		got := f.Document(doc.Seq)
		if got == nil {
			f.Documents = append(f.Documents, doc)
			continue
		}
		if got.LocalPath == "" {
			got.LocalPath = doc.LocalPath
		}
	}
}

// Copy returns a deep copy so index owned state is never aliased.
func (f *Filing) Copy() *Filing {
	clone := *f
	clone.Documents = make([]*Document, len(f.Documents))
	for i, d := range f.Documents {
		doc := *d
		clone.Documents[i] = &doc
	}
	return &clone
}
