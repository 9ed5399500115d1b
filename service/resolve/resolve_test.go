package resolve

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/apiclient"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/store/jsonfile"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/domain/filing"
)

type fakeClient struct {
	apiclient.Client

	searches      int
	payloads      []*apiclient.SearchPayload
	searchResults []*apiclient.SearchResult
	searchErr     error

	pages int
	page  []byte
}

func (c *fakeClient) SearchFilings(ctx context.Context, payload *apiclient.SearchPayload) (*apiclient.SearchResult, error) {
	c.searches++
	c.payloads = append(c.payloads, payload)
	if c.searchErr != nil && c.searches > len(c.searchResults) {
		return nil, c.searchErr
	}
	if c.searches > len(c.searchResults) {
		return &apiclient.SearchResult{}, nil
	}
	return c.searchResults[c.searches-1], nil
}

func (c *fakeClient) GetPage(ctx context.Context, url string) ([]byte, error) {
	c.pages++
	return c.page, nil
}

type recordLogger struct {
	msgs []string
}

func (l *recordLogger) Log(msg string) {
	l.msgs = append(l.msgs, msg)
}

func searchHit(id string, ciks []string, formType, form, date string) *apiclient.SearchHit {
	hit := &apiclient.SearchHit{Id: id}
	hit.Source.Ciks = ciks
	hit.Source.FormType = formType
	hit.Source.Form = form
	hit.Source.FileDate = date
	return hit
}

func searchPage(size int, hits ...*apiclient.SearchHit) *apiclient.SearchResult {
	res := &apiclient.SearchResult{}
	res.Hits.Total.Value = len(hits)
	res.Hits.Hits = hits
	res.Query.Size = size
	return res
}

func mustParse(t *testing.T, raw string) filing.AccessionNumber {
	acc, err := filing.ParseAccessionNumber(raw)
	if err != nil {
		t.Fatalf("Parse accession error: %s", err.Error())
	}
	return acc
}

func TestResolveByAccession(t *testing.T) {
	c := &fakeClient{searchResults: []*apiclient.SearchResult{
		searchPage(
			100,
			searchHit("0001628280-16-020309:aapl-20160924.htm", []string{"0000320193"}, "10-K", "10-K", "2016-10-26"),
			searchHit("0001628280-16-020309:other.htm", []string{"0000320193"}, "10-K", "10-K", "2016-10-26"),
		),
	}}
	l := &recordLogger{}
	s := New(c, l)

	fil, err := s.ResolveByAccession(context.Background(), mustParse(t, "0001628280-16-020309"))
	if err != nil {
		t.Fatalf("ResolveByAccession error: %s", err.Error())
	}
	if fil.ShortCik != "320193" {
		t.Errorf("Expected cik '320193' got '%s'", fil.ShortCik)
	}
	if fil.Form != "10-K" {
		t.Errorf("Expected form '10-K' got '%s'", fil.Form)
	}
	if got := fil.FilingDate.Format("2006-01-02"); got != "2016-10-26" {
		t.Errorf("Expected filing date '2016-10-26' got '%s'", got)
	}
	want := "https://www.sec.gov/Archives/edgar/data/320193/000162828016020309/0001628280-16-020309-index.htm"
	if fil.DetailPageUrl != want {
		t.Errorf("Expected detail page url '%s' got '%s'", want, fil.DetailPageUrl)
	}

	// the ambiguity must be surfaced in the log
	if len(l.msgs) != 1 {
		t.Errorf("Expected 1 logged warning got %d", len(l.msgs))
	}
}

func TestResolveByAccessionNoHits(t *testing.T) {
	c := &fakeClient{searchResults: []*apiclient.SearchResult{searchPage(100)}}
	s := New(c, &recordLogger{})

	_, err := s.ResolveByAccession(context.Background(), mustParse(t, "0001628280-16-020309"))
	if err != NotFoundErr {
		t.Errorf("Expected NotFoundErr got '%v'", err)
	}
}

const browsePage = `<html><body>
<table><tr><td>menu</td></tr></table>
<table><tr><td>info</td></tr></table>
<table>
<tr><th>Filings</th><th>Format</th><th>Description</th><th>Filing Date</th><th>File/Film Number</th></tr>
<tr><td>10-K</td><td>Documents</td><td>Annual report Acc-no: 0001628280-17-004790 (34 Act)</td><td>2017-05-03</td><td>001-36743</td></tr>
<tr><td>10-K</td><td>Documents</td><td>Annual report Acc-no: 0001628280-16-020309 (34 Act)</td><td>2016-10-26</td><td>001-36743</td></tr>
</table>
</body></html>`

func TestResolveAccession(t *testing.T) {
	c := &fakeClient{page: []byte(browsePage)}
	s := New(c, &recordLogger{})

	date, _ := time.Parse("2006-01-02", "2016-10-26")
	acc, err := s.ResolveAccession(context.Background(), "320193", "10-K", date)
	if err != nil {
		t.Fatalf("ResolveAccession error: %s", err.Error())
	}
	if acc.String() != "0001628280-16-020309" {
		t.Errorf("Expected accession '0001628280-16-020309' got '%s'", acc.String())
	}
}

func TestResolveAccessionDateMustMatchExactly(t *testing.T) {
	c := &fakeClient{page: []byte(browsePage)}
	s := New(c, &recordLogger{})

	// one day off, there is no nearest date fallback
	date, _ := time.Parse("2006-01-02", "2016-10-27")
	_, err := s.ResolveAccession(context.Background(), "320193", "10-K", date)
	if err != NotFoundErr {
		t.Errorf("Expected NotFoundErr got '%v'", err)
	}
}

func TestResolveAccessionUnsupportedForm(t *testing.T) {
	c := &fakeClient{page: []byte(browsePage)}
	s := New(c, &recordLogger{})

	_, err := s.ResolveAccession(context.Background(), "320193", "N-Q", time.Now())
	if err != UnsupportedFormErr {
		t.Errorf("Expected UnsupportedFormErr got '%v'", err)
	}
	// a usage error must be raised before any network call
	if c.pages != 0 {
		t.Errorf("Expected 0 page fetches got %d", c.pages)
	}
}

const detailPage = `<html><body>
<div class="companyInfo">
<span class="companyName">Apple Inc.</span>
<p>Type: <strong>10-K</strong></p>
</div>
<div class="formGrouping">
<div class="infoHead">Filing Date</div>
<div class="info">2016-10-26</div>
</div>
<div class="formGrouping">
<div class="infoHead">Period of Report</div>
<div class="info">2016-09-24</div>
</div>
<table class="tableFile">
<tr><th>Seq</th><th>Description</th><th>Document</th><th>Type</th><th>Size</th></tr>
<tr><td>1</td><td>10-K</td><td><a href="/ix?doc=/Archives/edgar/data/320193/000162828016020309/aapl-20160924.htm">aapl-20160924.htm</a></td><td>10-K</td><td>12345</td></tr>
<tr><td>2</td><td>PRESS RELEASE</td><td><a href="/Archives/edgar/data/320193/000162828016020309/exhibit991.htm">exhibit991.htm</a></td><td>99.1</td><td>2048</td></tr>
</table>
<table class="tableFile">
<tr><th>Seq</th><th>Description</th><th>Document</th><th>Type</th><th>Size</th></tr>
<tr><td>3</td><td>XBRL INSTANCE DOCUMENT</td><td><a href="/Archives/edgar/data/320193/000162828016020309/aapl-20160924.xml">aapl-20160924.xml</a></td><td>EX-101.INS</td><td>4096</td></tr>
<tr><td>4</td><td>Complete submission text file</td><td><a href="/Archives/edgar/data/320193/000162828016020309/0001628280-16-020309.txt">0001628280-16-020309.txt</a></td><td>&nbsp;</td><td>8192</td></tr>
</table>
</body></html>`

func TestFetchDocuments(t *testing.T) {
	c := &fakeClient{page: []byte(detailPage)}
	s := New(c, &recordLogger{})

	fil := &filing.Filing{
		Accession: mustParse(t, "0001628280-16-020309"),
		ShortCik:  "320193",
	}
	if err := s.FetchDocuments(context.Background(), fil); err != nil {
		t.Fatalf("FetchDocuments error: %s", err.Error())
	}

	if len(fil.Documents) != 4 {
		t.Fatalf("Expected 4 documents got %d", len(fil.Documents))
	}

	// the inline viewer prefix must be stripped from the primary document
	want := "https://www.sec.gov/Archives/edgar/data/320193/000162828016020309/aapl-20160924.htm"
	if fil.Documents[0].Url != want {
		t.Errorf("Expected url '%s' got '%s'", want, fil.Documents[0].Url)
	}

	if fil.DetailDocUrl != want {
		t.Errorf("Expected detail doc url '%s' got '%s'", want, fil.DetailDocUrl)
	}
	if !strings.HasSuffix(fil.InstanceDocUrl, "aapl-20160924.xml") {
		t.Errorf("Expected instance doc url ending in 'aapl-20160924.xml' got '%s'", fil.InstanceDocUrl)
	}
	if !strings.HasSuffix(fil.FullSubmissionUrl, "0001628280-16-020309.txt") {
		t.Errorf("Expected full submission url ending in '.txt' got '%s'", fil.FullSubmissionUrl)
	}
	if !strings.HasSuffix(fil.ExhibitUrl, "exhibit991.htm") {
		t.Errorf("Expected exhibit url ending in 'exhibit991.htm' got '%s'", fil.ExhibitUrl)
	}
	if !strings.HasSuffix(fil.XbrlZipUrl, "/320193/000162828016020309/0001628280-16-020309-xbrl.zip") {
		t.Errorf("Unexpected xbrl zip url '%s'", fil.XbrlZipUrl)
	}
	if !strings.HasSuffix(fil.XlsxUrl, "/320193/000162828016020309/Financial_Report.xlsx") {
		t.Errorf("Unexpected xlsx url '%s'", fil.XlsxUrl)
	}

	if fil.Form != "10-K" {
		t.Errorf("Expected form '10-K' got '%s'", fil.Form)
	}
	if got := fil.FilingDate.Format("2006-01-02"); got != "2016-10-26" {
		t.Errorf("Expected filing date '2016-10-26' got '%s'", got)
	}
	if got := fil.ReportDate.Format("2006-01-02"); got != "2016-09-24" {
		t.Errorf("Expected report date '2016-09-24' got '%s'", got)
	}
}

func TestFetchDocumentsIsIdempotent(t *testing.T) {
	c := &fakeClient{page: []byte(detailPage)}
	s := New(c, &recordLogger{})

	fil := &filing.Filing{
		Accession: mustParse(t, "0001628280-16-020309"),
		ShortCik:  "320193",
	}
	if err := s.FetchDocuments(context.Background(), fil); err != nil {
		t.Fatalf("FetchDocuments error: %s", err.Error())
	}
	fil.Documents[0].LocalPath = "320193/0001628280-16-020309/aapl-20160924.htm"

	if err := s.FetchDocuments(context.Background(), fil); err != nil {
		t.Fatalf("FetchDocuments error: %s", err.Error())
	}
	if len(fil.Documents) != 4 {
		t.Errorf("Expected 4 documents after repeat got %d", len(fil.Documents))
	}
	if fil.Documents[0].LocalPath != "320193/0001628280-16-020309/aapl-20160924.htm" {
		t.Errorf("Expected local path to survive, got '%s'", fil.Documents[0].LocalPath)
	}
}

func TestFetchDocumentsShapeMismatch(t *testing.T) {
	// a data row without a link breaks the positional zip
	broken := `<html><body><table>
<tr><td>1</td><td>10-K</td><td>aapl-20160924.htm</td><td>10-K</td><td>12345</td></tr>
</table></body></html>`
	c := &fakeClient{page: []byte(broken)}
	s := New(c, &recordLogger{})

	fil := &filing.Filing{
		Accession: mustParse(t, "0001628280-16-020309"),
		ShortCik:  "320193",
	}
	err := s.FetchDocuments(context.Background(), fil)
	if err != ShapeErr {
		t.Errorf("Expected ShapeErr got '%v'", err)
	}
}

func TestCompleteFilings(t *testing.T) {
	st, err := jsonfile.New(t.TempDir())
	if err != nil {
		t.Fatalf("Store error: %s", err.Error())
	}
	defer st.Close()

	c := &fakeClient{page: []byte(detailPage)}
	s := New(c, &recordLogger{})

	// an indexed filing with a located document must not be resolved again
	known := &filing.Filing{
		Accession: mustParse(t, "0001628280-17-004790"),
		ShortCik:  "320193",
		Form:      "10-K",
		Documents: []*filing.Document{
			{Seq: 1, Name: "aapl-20170401.htm", LocalPath: "320193/0001628280-17-004790/aapl-20170401.htm"},
		},
	}
	if err := st.Upsert(known); err != nil {
		t.Fatalf("Upsert error: %s", err.Error())
	}

	fils := s.CompleteFilings(context.Background(), st, []*filing.Filing{
		{Accession: mustParse(t, "0001628280-17-004790"), ShortCik: "320193"},
	})
	if c.pages != 0 {
		t.Errorf("Expected 0 page fetches for the indexed filing got %d", c.pages)
	}
	if fils[0].Documents[0].LocalPath != known.Documents[0].LocalPath {
		t.Errorf("Expected the indexed local path got '%s'", fils[0].Documents[0].LocalPath)
	}

	// an unknown filing gets its document list resolved
	fils = s.CompleteFilings(context.Background(), st, []*filing.Filing{
		{Accession: mustParse(t, "0001628280-16-020309"), ShortCik: "320193"},
	})
	if c.pages != 1 {
		t.Errorf("Expected 1 page fetch got %d", c.pages)
	}
	if len(fils[0].Documents) != 4 {
		t.Errorf("Expected 4 documents got %d", len(fils[0].Documents))
	}
}

func TestCompleteFilingsRetriesEmptyDocumentList(t *testing.T) {
	st, err := jsonfile.New(t.TempDir())
	if err != nil {
		t.Fatalf("Store error: %s", err.Error())
	}
	defer st.Close()

	// an earlier run indexed the filing but failed to resolve its
	// documents, the record must not stay stuck that way
	stuck := &filing.Filing{
		Accession: mustParse(t, "0001628280-16-020309"),
		ShortCik:  "320193",
	}
	if err := st.Upsert(stuck); err != nil {
		t.Fatalf("Upsert error: %s", err.Error())
	}

	c := &fakeClient{page: []byte(detailPage)}
	s := New(c, &recordLogger{})

	fils := s.CompleteFilings(context.Background(), st, []*filing.Filing{
		{Accession: mustParse(t, "0001628280-16-020309"), ShortCik: "320193"},
	})
	if c.pages != 1 {
		t.Errorf("Expected 1 page fetch for the empty record got %d", c.pages)
	}
	if len(fils[0].Documents) != 4 {
		t.Errorf("Expected 4 documents got %d", len(fils[0].Documents))
	}
}

func TestEnumerate(t *testing.T) {
	c := &fakeClient{searchResults: []*apiclient.SearchResult{
		searchPage(
			3,
			searchHit("0001628280-16-020309:aapl-20160924.htm", []string{"0001214156", "0000320193"}, "10-K", "10-K", "2016-10-26"),
			searchHit("0001628280-16-020310:amend.htm", []string{"0000320193"}, "10-K/A", "10-K/A", "2016-11-01"),
			searchHit("0001628280-16-020311:nq.htm", []string{"0000320193"}, "N-Q", "N-Q", "2016-11-02"),
		),
		searchPage(
			3,
			searchHit("0001628280-17-004790:aapl-20170401.htm", []string{"0000320193"}, "10-K", "10-K", "2017-05-03"),
		),
	}}
	s := New(c, &recordLogger{})

	after, _ := time.Parse("2006-01-02", "2016-01-01")
	before, _ := time.Parse("2006-01-02", "2018-01-01")
	fils, err := s.Enumerate(context.Background(), "AAPL", "10-K", after, before, 10, false, "")
	if err != nil {
		t.Fatalf("Enumerate error: %s", err.Error())
	}

	// the amendment and the mismatched form are filtered out
	if len(fils) != 2 {
		t.Fatalf("Expected 2 filings got %d", len(fils))
	}
	if fils[0].Accession.String() != "0001628280-16-020309" {
		t.Errorf("Expected accession '0001628280-16-020309' got '%s'", fils[0].Accession.String())
	}
	// the firm is the last cik of the hit
	if fils[0].ShortCik != "320193" {
		t.Errorf("Expected cik '320193' got '%s'", fils[0].ShortCik)
	}
	if !strings.HasSuffix(fils[0].DetailDocUrl, "aapl-20160924.htm") {
		t.Errorf("Expected detail doc url from the hit id got '%s'", fils[0].DetailDocUrl)
	}
}

func TestEnumerateIncludesAmends(t *testing.T) {
	c := &fakeClient{searchResults: []*apiclient.SearchResult{
		searchPage(
			2,
			searchHit("0001628280-16-020309:aapl.htm", []string{"0000320193"}, "10-K", "10-K", "2016-10-26"),
			searchHit("0001628280-16-020310:amend.htm", []string{"0000320193"}, "10-K/A", "10-K/A", "2016-11-01"),
		),
	}}
	s := New(c, &recordLogger{})

	after, _ := time.Parse("2006-01-02", "2016-01-01")
	before, _ := time.Parse("2006-01-02", "2018-01-01")
	fils, err := s.Enumerate(context.Background(), "AAPL", "10-K", after, before, 10, true, "")
	if err != nil {
		t.Fatalf("Enumerate error: %s", err.Error())
	}
	if len(fils) != 2 {
		t.Errorf("Expected 2 filings got %d", len(fils))
	}
}

func TestEnumeratePadsCik(t *testing.T) {
	c := &fakeClient{}
	s := New(c, &recordLogger{})

	after, _ := time.Parse("2006-01-02", "2016-01-01")
	before, _ := time.Parse("2006-01-02", "2018-01-01")

	// the search API needs zero padded ciks for accurate results
	if _, err := s.Enumerate(context.Background(), "320193", "10-K", after, before, 10, false, ""); err != nil {
		t.Fatalf("Enumerate error: %s", err.Error())
	}
	if c.payloads[0].EntityName != "0000320193" {
		t.Errorf("Expected entity '0000320193' got '%s'", c.payloads[0].EntityName)
	}

	// tickers pass through unchanged
	if _, err := s.Enumerate(context.Background(), "AAPL", "10-K", after, before, 10, false, ""); err != nil {
		t.Fatalf("Enumerate error: %s", err.Error())
	}
	if c.payloads[1].EntityName != "AAPL" {
		t.Errorf("Expected entity 'AAPL' got '%s'", c.payloads[1].EntityName)
	}
}

func TestEnumerateStopsAtLimit(t *testing.T) {
	c := &fakeClient{searchResults: []*apiclient.SearchResult{
		searchPage(
			2,
			searchHit("0001628280-16-020309:a.htm", []string{"0000320193"}, "10-K", "10-K", "2016-10-26"),
			searchHit("0001628280-17-004790:b.htm", []string{"0000320193"}, "10-K", "10-K", "2017-05-03"),
		),
	}}
	s := New(c, &recordLogger{})

	after, _ := time.Parse("2006-01-02", "2016-01-01")
	before, _ := time.Parse("2006-01-02", "2018-01-01")
	fils, err := s.Enumerate(context.Background(), "AAPL", "10-K", after, before, 1, false, "")
	if err != nil {
		t.Fatalf("Enumerate error: %s", err.Error())
	}
	if len(fils) != 1 {
		t.Errorf("Expected 1 filing got %d", len(fils))
	}
	if c.searches != 1 {
		t.Errorf("Expected 1 search got %d", c.searches)
	}
}

func TestEnumerateKeepsPartialResults(t *testing.T) {
	c := &fakeClient{
		searchResults: []*apiclient.SearchResult{
			searchPage(
				1,
				searchHit("0001628280-16-020309:a.htm", []string{"0000320193"}, "10-K", "10-K", "2016-10-26"),
			),
		},
		searchErr: errors.New("Connection reset error"),
	}
	s := New(c, &recordLogger{})

	after, _ := time.Parse("2006-01-02", "2016-01-01")
	before, _ := time.Parse("2006-01-02", "2018-01-01")
	fils, err := s.Enumerate(context.Background(), "AAPL", "10-K", after, before, 10, false, "")
	if err == nil {
		t.Fatalf("Expected an error from the second page")
	}
	// filings collected before the failure are kept
	if len(fils) != 1 {
		t.Errorf("Expected 1 filing got %d", len(fils))
	}
}

func TestEnumerateUnsupportedForm(t *testing.T) {
	c := &fakeClient{}
	s := New(c, &recordLogger{})

	_, err := s.Enumerate(context.Background(), "AAPL", "N-Q", time.Now(), time.Now(), 10, false, "")
	if err != UnsupportedFormErr {
		t.Errorf("Expected UnsupportedFormErr got '%v'", err)
	}
	if c.searches != 0 {
		t.Errorf("Expected 0 searches got %d", c.searches)
	}
}

func TestEnumerateCancellation(t *testing.T) {
	c := &fakeClient{searchResults: []*apiclient.SearchResult{
		searchPage(
			1,
			searchHit("0001628280-16-020309:a.htm", []string{"0000320193"}, "10-K", "10-K", "2016-10-26"),
		),
	}}
	s := New(c, &recordLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	after, _ := time.Parse("2006-01-02", "2016-01-01")
	before, _ := time.Parse("2006-01-02", "2018-01-01")
	_, err := s.Enumerate(ctx, "AAPL", "10-K", after, before, 10, false, "")
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled got '%v'", err)
	}
	if c.searches != 0 {
		t.Errorf("Expected 0 searches after cancellation got %d", c.searches)
	}
}
