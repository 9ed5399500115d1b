package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/bucket"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/store"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/domain/filing"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresDB implements the filing index on postgres for installs that
// share one index across hosts. Same merge semantics as the file
// backed store: duplicate inserts are no-ops, only UpdateDocument
// writes a local path.
type postgresDB struct {
	conn *pgxpool.Pool
}

func New(host, port, name, user, pass string) (*postgresDB, error) {

	conn, err := pgxpool.New(
		context.Background(),
		fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name),
	)
	if err != nil {
		return nil, err
	}

	return &postgresDB{conn: conn}, nil
}

func (db *postgresDB) Close() error {
	db.conn.Close()
	return nil
}

func (db *postgresDB) CreateBaseTables() error {

	_, err := db.conn.Exec(context.Background(), `CREATE TABLE IF NOT EXISTS filing (
		key VARCHAR(40) PRIMARY KEY,
		accession VARCHAR(20) NOT NULL,
		short_cik VARCHAR(10) NOT NULL,
		form VARCHAR(20) DEFAULT NULL,
		filing_date TIMESTAMP DEFAULT NULL,
		report_date TIMESTAMP DEFAULT NULL,
		detail_page_url VARCHAR(300) DEFAULT NULL,
		full_submission_url VARCHAR(300) DEFAULT NULL,
		detail_doc_url VARCHAR(300) DEFAULT NULL,
		instance_doc_url VARCHAR(300) DEFAULT NULL,
		exhibit_url VARCHAR(300) DEFAULT NULL,
		xbrl_zip_url VARCHAR(300) DEFAULT NULL,
		xlsx_url VARCHAR(300) DEFAULT NULL
	);`)
	if err != nil {
		return err
	}

	_, err = db.conn.Exec(context.Background(), `CREATE TABLE IF NOT EXISTS document (
		id UUID PRIMARY KEY,
		filing_key VARCHAR(40) REFERENCES filing(key) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		description TEXT DEFAULT NULL,
		name VARCHAR(200) NOT NULL,
		type VARCHAR(50) DEFAULT NULL,
		size BIGINT DEFAULT 0,
		url VARCHAR(300) DEFAULT NULL,
		extension VARCHAR(20) DEFAULT NULL,
		local_path VARCHAR(300) DEFAULT NULL,
		CONSTRAINT unique_filing_key_seq UNIQUE(filing_key, seq)
	);`)
	if err != nil {
		return err
	}

	return nil
}

func (db *postgresDB) Upsert(fils ...*filing.Filing) error {

	for _, fil := range fils {
		// a duplicate key merges, metadata resolved later fills the
		// columns that are still unset and never overwrites a value
		_, err := db.conn.Exec(
			context.Background(),
			`INSERT INTO filing (key, accession, short_cik, form, filing_date, report_date,
				detail_page_url, full_submission_url, detail_doc_url, instance_doc_url,
				exhibit_url, xbrl_zip_url, xlsx_url)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
				ON CONFLICT (key) DO UPDATE SET
				form = COALESCE(NULLIF(filing.form, ''), EXCLUDED.form),
				filing_date = COALESCE(filing.filing_date, EXCLUDED.filing_date),
				report_date = COALESCE(filing.report_date, EXCLUDED.report_date),
				detail_page_url = COALESCE(NULLIF(filing.detail_page_url, ''), EXCLUDED.detail_page_url),
				full_submission_url = COALESCE(NULLIF(filing.full_submission_url, ''), EXCLUDED.full_submission_url),
				detail_doc_url = COALESCE(NULLIF(filing.detail_doc_url, ''), EXCLUDED.detail_doc_url),
				instance_doc_url = COALESCE(NULLIF(filing.instance_doc_url, ''), EXCLUDED.instance_doc_url),
				exhibit_url = COALESCE(NULLIF(filing.exhibit_url, ''), EXCLUDED.exhibit_url),
				xbrl_zip_url = COALESCE(NULLIF(filing.xbrl_zip_url, ''), EXCLUDED.xbrl_zip_url),
				xlsx_url = COALESCE(NULLIF(filing.xlsx_url, ''), EXCLUDED.xlsx_url);`,
			fil.Key(),
			fil.Accession.String(),
			fil.ShortCik,
			fil.Form,
			nullTime(fil.FilingDate),
			nullTime(fil.ReportDate),
			fil.DetailPageUrl,
			fil.FullSubmissionUrl,
			fil.DetailDocUrl,
			fil.InstanceDocUrl,
			fil.ExhibitUrl,
			fil.XbrlZipUrl,
			fil.XlsxUrl,
		)
		if err != nil {
			return errorWrapper(err)
		}

		for _, doc := range fil.Documents {
			if err := db.insertDocument(fil.Key(), doc); err != nil {
				return err
			}
		}
	}

	return nil
}

func (db *postgresDB) insertDocument(key string, doc *filing.Document) error {

	id, err := uuid.NewV7()
	if err != nil {
		return err
	}

	_, err = db.conn.Exec(
		context.Background(),
		`INSERT INTO document (id, filing_key, seq, description, name, type, size, url, extension, local_path)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`,
		id,
		key,
		doc.Seq,
		doc.Description,
		doc.Name,
		doc.Type,
		doc.Size,
		doc.Url,
		doc.Extension,
		nullString(doc.LocalPath),
	)

	err = errorWrapper(err)
	// a duplicate seq means the document is already indexed, keep it
	if err != nil && err != store.DuplicateErr {
		return err
	}
	return nil
}

func (db *postgresDB) Get(key string) (*filing.Filing, error) {

	fil := &filing.Filing{}
	var accession string
	var filingDate, reportDate sql.NullTime
	err := db.conn.QueryRow(
		context.Background(),
		`SELECT accession, short_cik, form, filing_date, report_date,
			detail_page_url, full_submission_url, detail_doc_url, instance_doc_url,
			exhibit_url, xbrl_zip_url, xlsx_url
			FROM filing WHERE key = $1;`,
		key,
	).Scan(
		&accession,
		&fil.ShortCik,
		&fil.Form,
		&filingDate,
		&reportDate,
		&fil.DetailPageUrl,
		&fil.FullSubmissionUrl,
		&fil.DetailDocUrl,
		&fil.InstanceDocUrl,
		&fil.ExhibitUrl,
		&fil.XbrlZipUrl,
		&fil.XlsxUrl,
	)
	if err != nil {
		return nil, store.NotFoundErr
	}

	fil.Accession, err = filing.ParseAccessionNumber(accession)
	if err != nil {
		return nil, err
	}
	if filingDate.Valid {
		fil.FilingDate = filingDate.Time
	}
	if reportDate.Valid {
		fil.ReportDate = reportDate.Time
	}

	rows, err := db.conn.Query(
		context.Background(),
		`SELECT seq, description, name, type, size, url, extension, local_path
			FROM document WHERE filing_key = $1 ORDER BY seq ASC;`,
		key,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		doc := &filing.Document{}
		var localPath sql.NullString
		err := rows.Scan(
			&doc.Seq,
			&doc.Description,
			&doc.Name,
			&doc.Type,
			&doc.Size,
			&doc.Url,
			&doc.Extension,
			&localPath,
		)
		if err != nil {
			return nil, err
		}
		doc.LocalPath = localPath.String
		fil.Documents = append(fil.Documents, doc)
	}

	return fil, nil
}

func (db *postgresDB) UpdateDocument(key string, doc *filing.Document) error {

	tag, err := db.conn.Exec(
		context.Background(),
		`UPDATE document SET description = $3, name = $4, type = $5, size = $6,
			url = $7, extension = $8,
			local_path = COALESCE($9, local_path)
			WHERE filing_key = $1 AND seq = $2;`,
		key,
		doc.Seq,
		doc.Description,
		doc.Name,
		doc.Type,
		doc.Size,
		doc.Url,
		doc.Extension,
		nullString(doc.LocalPath),
	)
	if err != nil {
		return errorWrapper(err)
	}
	if tag.RowsAffected() < 1 {
		return store.NotFoundErr
	}
	return nil
}

func (db *postgresDB) AllDocuments() (map[string]*filing.Document, error) {

	rows, err := db.conn.Query(
		context.Background(),
		`SELECT filing_key, seq, description, name, type, size, url, extension, local_path
			FROM document ORDER BY filing_key ASC, seq ASC;`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make(map[string]*filing.Document)
	for rows.Next() {
		doc := &filing.Document{}
		var key string
		var localPath sql.NullString
		err := rows.Scan(
			&key,
			&doc.Seq,
			&doc.Description,
			&doc.Name,
			&doc.Type,
			&doc.Size,
			&doc.Url,
			&doc.Extension,
			&localPath,
		)
		if err != nil {
			return nil, err
		}
		doc.LocalPath = localPath.String
		docs[fmt.Sprintf("%s|%d", key, doc.Seq)] = doc
	}

	return docs, nil
}

func (db *postgresDB) Reconcile(b bucket.Bucket) (int, error) {

	found := make(map[string]string)
	err := b.Walk(func(key string) error {
		found[path.Base(key)] = key
		return nil
	})
	if err != nil {
		return 0, err
	}

	rows, err := db.conn.Query(
		context.Background(),
		`SELECT filing_key, seq, name FROM document WHERE local_path IS NULL;`,
	)
	if err != nil {
		return 0, err
	}

	type target struct {
		key  string
		seq  int
		path string
	}
	targets := []target{}
	for rows.Next() {
		var t target
		var name string
		if err := rows.Scan(&t.key, &t.seq, &name); err != nil {
			rows.Close()
			return 0, err
		}
		if p, ok := found[name]; ok {
			t.path = p
			targets = append(targets, t)
		}
	}
	rows.Close()

	for _, t := range targets {
		_, err := db.conn.Exec(
			context.Background(),
			`UPDATE document SET local_path = $3 WHERE filing_key = $1 AND seq = $2;`,
			t.key,
			t.seq,
			t.path,
		)
		if err != nil {
			return 0, err
		}
	}

	return len(targets), nil
}

// Helper Functions

// to insert null into database timestamps
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Valid: true, Time: t}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{Valid: true, String: s}
}

// map postgres error codes onto the error constants of the store package
func errorWrapper(err error) error {

	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQL Error code for violated unique constraint
		if pgErr.Code == "23505" {
			return store.DuplicateErr
		}
	}

	return err
}
