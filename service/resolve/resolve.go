package resolve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/apiclient"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/logger"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/store"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/domain/filing"
	"github.com/PuerkitoBio/goquery"
)

var NotFoundErr error = errors.New("Filing not found error")

// ShapeErr means a fetched page did not have the expected structure.
// It is distinct from a network failure so callers can tell upstream
// format drift apart from a connection problem.
var ShapeErr error = errors.New("Unexpected page shape error")

// UnsupportedFormErr is raised before any network call is made.
var UnsupportedFormErr error = errors.New("Unsupported form type error")

const dateLayout = "2006-01-02"

// Service turns partial filing information into complete filing
// descriptors by querying the full text search API, the company browse
// page and the filing detail page.
type Service struct {
	client apiclient.Client
	logger logger.Logger
}

func New(c apiclient.Client, l logger.Logger) *Service {
	return &Service{client: c, logger: l}
}

// ResolveByAccession recovers the firm, form and filing date of an
// accession number through a phrase query against the full text search
// API. Multiple hits are not an error, the first one wins and the rest
// are logged.
func (s *Service) ResolveByAccession(ctx context.Context, acc filing.AccessionNumber) (*filing.Filing, error) {

	payload := &apiclient.SearchPayload{
		Query:     acc.String(),
		DateRange: "all",
		StartDate: "2001-01-01",
		EndDate:   time.Now().Format(dateLayout),
	}
	res, err := s.client.SearchFilings(ctx, payload)
	if err != nil {
		return nil, err
	}

	hits := res.Hits.Hits
	if len(hits) < 1 {
		return nil, NotFoundErr
	}
	if len(hits) > 1 {
		s.logger.Log(fmt.Sprintf(
			"Multiple results match accession '%s', taking the first of %d",
			acc.String(), len(hits),
		))
	}

	hit := hits[0]
	if len(hit.Source.Ciks) < 1 {
		return nil, ShapeErr
	}

	fil := &filing.Filing{
		Accession: acc,
		ShortCik:  strings.TrimLeft(hit.Source.Ciks[0], "0"),
		Form:      hit.Source.Form,
	}
	if date, err := time.Parse(dateLayout, hit.Source.FileDate); err == nil {
		fil.FilingDate = date
	}
	fil.DetailPageUrl = detailPageUrl(fil.ShortCik, acc)

	return fil, nil
}

// ResolveAccession finds the accession number of the filing a firm
// submitted under a form type on an exact date, from the company browse
// page. There is no nearest date fallback, a date the table does not
// contain verbatim is a miss.
func (s *Service) ResolveAccession(ctx context.Context, shortCik, form string, date time.Time) (filing.AccessionNumber, error) {

	if !filing.IsSupportedForm(form) {
		return filing.AccessionNumber{}, UnsupportedFormErr
	}

	browse := fmt.Sprintf(
		"%s?action=getcompany&CIK=%s&type=%s",
		apiclient.BrowseEndpoint, url.QueryEscape(shortCik), url.QueryEscape(form),
	)
	page, err := s.client.GetPage(ctx, browse)
	if err != nil {
		return filing.AccessionNumber{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return filing.AccessionNumber{}, err
	}

	// the results live in the third table of the page
	tables := doc.Find("table")
	if tables.Length() < 3 {
		return filing.AccessionNumber{}, ShapeErr
	}

	want := date.Format(dateLayout)
	raw := ""
	tables.Eq(2).Find("tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		cells := row.Find("td")
		// columns: Filings, Format, Description, Filing Date, File/Film Number
		if cells.Length() < 4 {
			return true
		}
		if strings.TrimSpace(cells.Eq(3).Text()) != want {
			return true
		}
		desc := cells.Eq(2).Text()
		_, after, found := strings.Cut(desc, "Acc-no: ")
		if !found {
			return true
		}
		fields := strings.Fields(after)
		if len(fields) < 1 {
			return true
		}
		raw = fields[0]
		return false
	})
	if raw == "" {
		return filing.AccessionNumber{}, NotFoundErr
	}

	return filing.ParseAccessionNumber(raw)
}

// FetchDocuments loads the filing detail page and fills in the filing's
// document list, well known urls and any header metadata that is still
// unset. The call is idempotent, repeating it merges by sequence number
// and never duplicates a document or overwrites a known local path.
func (s *Service) FetchDocuments(ctx context.Context, fil *filing.Filing) error {

	if fil.ShortCik == "" || fil.Accession.IsZero() {
		return errors.New("Filing is missing its cik or accession number")
	}

	pageUrl := detailPageUrl(fil.ShortCik, fil.Accession)
	page, err := s.client.GetPage(ctx, pageUrl)
	if err != nil {
		return err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return err
	}

	parsed := &filing.Filing{
		Accession:     fil.Accession,
		ShortCik:      fil.ShortCik,
		DetailPageUrl: pageUrl,
	}
	parseHeader(doc, parsed)
	if err := parseDocuments(doc, parsed); err != nil {
		return err
	}

	noDashes := fil.Accession.NoDashes()
	parsed.XbrlZipUrl = fmt.Sprintf(
		"%s/%s/%s/%s-xbrl.zip",
		apiclient.ArchivesBase, fil.ShortCik, noDashes, fil.Accession.String(),
	)
	parsed.XlsxUrl = fmt.Sprintf(
		"%s/%s/%s/Financial_Report.xlsx",
		apiclient.ArchivesBase, fil.ShortCik, noDashes,
	)

	fil.Merge(parsed)
	return nil
}

// parseHeader reads form type, filing date and period of report from
// the info boxes at the top of the detail page.
func parseHeader(doc *goquery.Document, fil *filing.Filing) {

	fil.Form = strings.TrimSpace(doc.Find("div.companyInfo strong").First().Text())

	doc.Find("div.infoHead").Each(func(i int, head *goquery.Selection) {
		value := strings.TrimSpace(head.NextFiltered("div.info").Text())
		date, err := time.Parse(dateLayout, value)
		if err != nil {
			return
		}
		switch strings.TrimSpace(head.Text()) {
		case "Filing Date":
			fil.FilingDate = date
		case "Period of Report":
			fil.ReportDate = date
		}
	})
}

// parseDocuments concatenates the data rows of every table on the page
// and zips them positionally with every anchor in document order. Row
// order and link order correspond one to one on the detail page.
func parseDocuments(doc *goquery.Document, fil *filing.Filing) error {

	type row struct {
		cells []string
	}
	rows := []row{}
	doc.Find("table").Each(func(i int, table *goquery.Selection) {
		table.Find("tr").Each(func(j int, tr *goquery.Selection) {
			cells := tr.Find("td")
			if cells.Length() < 5 {
				return
			}
			r := row{}
			cells.Each(func(k int, cell *goquery.Selection) {
				r.cells = append(r.cells, strings.TrimSpace(cell.Text()))
			})
			rows = append(rows, r)
		})
	})

	hrefs := []string{}
	doc.Find("table a[href]").Each(func(i int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		hrefs = append(hrefs, href)
	})

	if len(rows) != len(hrefs) {
		return ShapeErr
	}

	for i, r := range rows {
		href := hrefs[i]
		// the primary document may point at the inline viewer
		if _, after, found := strings.Cut(href, "/ix?doc="); found {
			href = after
		}

		seq, err := strconv.Atoi(r.cells[0])
		if err != nil {
			continue
		}
		size, _ := strconv.ParseInt(r.cells[4], 10, 64)

		d := &filing.Document{
			Seq:         seq,
			Description: r.cells[1],
			Name:        r.cells[2],
			Type:        r.cells[3],
			Size:        size,
			Url:         apiclient.WebBase + href,
			Extension:   extension(href),
		}
		fil.Documents = append(fil.Documents, d)

		if fil.DetailDocUrl == "" && filing.IsSupportedForm(d.Type) {
			fil.DetailDocUrl = d.Url
		}
		if fil.InstanceDocUrl == "" && strings.Contains(d.Description, "INSTANCE") {
			fil.InstanceDocUrl = d.Url
		}
		if fil.FullSubmissionUrl == "" && strings.Contains(d.Extension, "txt") {
			fil.FullSubmissionUrl = d.Url
		}
		if fil.ExhibitUrl == "" && d.Type == "99.1" {
			fil.ExhibitUrl = d.Url
		}
	}

	return nil
}

// Enumerate pages through the full text search results for a firm,
// form and date window until the limit is reached or the results run
// out. Filings collected before a failed page are returned alongside
// the error.
func (s *Service) Enumerate(
	ctx context.Context,
	entity string,
	form string,
	after time.Time,
	before time.Time,
	limit int,
	includeAmends bool,
	query string,
) ([]*filing.Filing, error) {

	if !filing.IsSupportedForm(form) {
		return nil, UnsupportedFormErr
	}

	fils := []*filing.Filing{}
	start := 0
	for len(fils) < limit {
		if err := ctx.Err(); err != nil {
			return fils, err
		}

		payload := &apiclient.SearchPayload{
			DateRange:  "custom",
			StartDate:  after.Format(dateLayout),
			EndDate:    before.Format(dateLayout),
			EntityName: padCik(entity),
			Forms:      []string{form},
			From:       start,
			Query:      query,
		}
		res, err := s.client.SearchFilings(ctx, payload)
		if err != nil {
			return fils, err
		}
		if len(res.Hits.Hits) < 1 {
			break
		}

		for _, hit := range res.Hits.Hits {
			isAmend := strings.HasSuffix(hit.Source.FormType, "/A")
			if isAmend && !includeAmends {
				continue
			}
			// the search sometimes returns unrelated forms, an 8-K
			// query may contain N-Q entries
			if !isAmend && hit.Source.FormType != form {
				continue
			}

			fil, err := filingFromHit(hit)
			if err != nil {
				s.logger.Log(fmt.Sprintf("Search hit error: %s", err.Error()))
				continue
			}
			fils = append(fils, fil)
			if len(fils) == limit {
				return fils, nil
			}
		}

		// page size comes from the response, it is not a constant
		if res.Query.Size < 1 {
			break
		}
		start += res.Query.Size
	}

	return fils, nil
}

// filingFromHit builds a filing from one search hit. The hit id has
// the form 'accessionNumber:primaryDocument'. The filing's firm is the
// last cik in the list, earlier entries can belong to executives on
// ownership filings.
func filingFromHit(hit *apiclient.SearchHit) (*filing.Filing, error) {

	raw, primary, found := strings.Cut(hit.Id, ":")
	if !found {
		return nil, ShapeErr
	}
	acc, err := filing.ParseAccessionNumber(raw)
	if err != nil {
		return nil, err
	}
	if len(hit.Source.Ciks) < 1 {
		return nil, ShapeErr
	}
	shortCik := strings.TrimLeft(hit.Source.Ciks[len(hit.Source.Ciks)-1], "0")

	fil := &filing.Filing{
		Accession: acc,
		ShortCik:  shortCik,
		Form:      hit.Source.FormType,
	}
	if date, err := time.Parse(dateLayout, hit.Source.FileDate); err == nil {
		fil.FilingDate = date
	}

	base := fmt.Sprintf("%s/%s/%s", apiclient.ArchivesBase, shortCik, acc.NoDashes())
	fil.DetailPageUrl = detailPageUrl(shortCik, acc)
	fil.FullSubmissionUrl = fmt.Sprintf("%s/%s.txt", base, acc.String())
	fil.DetailDocUrl = fmt.Sprintf("%s/%s", base, primary)
	fil.XbrlZipUrl = fmt.Sprintf("%s/%s-xbrl.zip", base, acc.String())
	fil.XlsxUrl = fmt.Sprintf("%s/Financial_Report.xlsx", base)

	return fil, nil
}

func detailPageUrl(shortCik string, acc filing.AccessionNumber) string {
	return fmt.Sprintf(
		"%s/%s/%s/%s-index.htm",
		apiclient.ArchivesBase, shortCik, acc.NoDashes(), acc.String(),
	)
}

// CompleteFilings readies a batch for download. Filings the index
// already holds are swapped for their indexed record so located
// documents are not fetched again; the document list is resolved for
// everything else, including indexed records whose list is still empty
// from an earlier failed resolution. A resolution failure is logged
// and the filing kept, the batch goes on.
func (s *Service) CompleteFilings(ctx context.Context, st store.Store, fils []*filing.Filing) []*filing.Filing {
	for i, fil := range fils {
		if got, err := st.Get(fil.Key()); err == nil {
			got.Merge(fil)
			fils[i] = got
			if len(got.Documents) > 0 {
				continue
			}
			fil = got
		}
		if err := s.FetchDocuments(ctx, fil); err != nil {
			s.logger.Log(fmt.Sprintf("Resolve error for '%s': %s", fil.Key(), err.Error()))
		}
	}
	return fils
}

// padCik zero pads a numeric entity to ten digits, the search API
// needs the padding for accurate results. Tickers and names pass
// through unchanged.
func padCik(entity string) string {
	if entity == "" {
		return entity
	}
	for _, r := range entity {
		if r < '0' || r > '9' {
			return entity
		}
	}
	return fmt.Sprintf("%010s", entity)
}

// extension is the part of a link after its last dot.
func extension(href string) string {
	if i := strings.LastIndex(href, "."); i >= 0 {
		return href[i+1:]
	}
	return ""
}
