package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/apiclient"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/apiclient/httpclient"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/bucket"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/bucket/folder"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/bucket/vault"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/logger"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/logger/console"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/queue/buffer"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/store"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/store/jsonfile"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/store/postgres"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/domain/filing"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/service/download"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/service/registry"
	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/service/resolve"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/joho/godotenv"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		panic(err)
	}

	ctx := context.Background()

	var l logger.Logger
	l = console.New()

	var c apiclient.Client
	c = httpclient.New()

	var b bucket.Bucket
	b = folder.New(
		envOrPanic("B_PATH"),
	)

	st := openStore(l)
	defer st.Close()

	// repair the index against files that already landed on disk
	repaired, err := st.Reconcile(b)
	if err != nil {
		panic(err)
	}
	if repaired > 0 {
		l.Log(fmt.Sprintf("Reconciled %d documents against the download folder", repaired))
	}

	firm := resolveFirm(ctx, c, l)
	l.Log(fmt.Sprintf("Resolved firm '%s' (cik %s)", firm.Name, firm.Cik))

	r := resolve.New(c, l)
	fils, err := r.Enumerate(
		ctx,
		firm.Cik,
		envOrPanic("FORM"),
		dateOrPanic("AFTER"),
		dateOrPanic("BEFORE"),
		intOrDefault("LIMIT", 10),
		os.Getenv("INCLUDE_AMENDS") == "true",
		os.Getenv("QUERY"),
	)
	if err != nil {
		if len(fils) < 1 {
			panic(err)
		}
		l.Log(fmt.Sprintf("Enumerate error, continuing with %d filings: %s", len(fils), err.Error()))
	}

	// complete every descriptor with its document list, known filings
	// come from the index so located documents are not fetched again
	fils = r.CompleteFilings(ctx, st, fils)

	d := download.New(st, b, c, buffer.New(), l, intOrDefault("WORKERS", 4))
	result, err := d.DownloadFilings(ctx, fils)
	if err != nil {
		panic(err)
	}
	l.Log(fmt.Sprintf(
		"Download finished: %d new, %d previous, %d failed",
		len(result.New), len(result.Previous), len(result.Failed),
	))
	for _, key := range result.Failed {
		l.Log(fmt.Sprintf("Failed document '%s'", key))
	}

	archiveBatch(fils, b, l)
}

// openStore picks the index backend, the single json file next to the
// download folder by default, postgres when configured.
func openStore(l logger.Logger) store.Store {
	if os.Getenv("DB_HOST") == "" {
		st, err := jsonfile.New(envOrPanic("B_PATH"))
		if err != nil {
			panic(err)
		}
		return st
	}

	db, err := postgres.New(
		envOrPanic("DB_HOST"),
		envOrPanic("DB_PORT"),
		envOrPanic("DB_NAME"),
		envOrPanic("DB_USER"),
		envOrPanic("DB_PASS"),
	)
	if err != nil {
		panic(err)
	}
	if err := db.CreateBaseTables(); err != nil {
		panic(err)
	}
	l.Log("Using the postgres filing index")
	return db
}

// resolveFirm turns whichever of CIK, TICKER or COMPANY_NAME is set
// into a registry entry.
func resolveFirm(ctx context.Context, c apiclient.Client, l logger.Logger) *filing.Firm {
	reg := registry.New(c, l)

	var firm *filing.Firm
	var err error
	switch {
	case os.Getenv("CIK") != "":
		firm, err = reg.ResolveCik(ctx, os.Getenv("CIK"))
	case os.Getenv("TICKER") != "":
		firm, err = reg.ResolveTicker(ctx, os.Getenv("TICKER"))
	case os.Getenv("COMPANY_NAME") != "":
		firm, err = reg.ResolveName(ctx, os.Getenv("COMPANY_NAME"))
	default:
		panic(errors.New("One of 'CIK', 'TICKER' or 'COMPANY_NAME' must be set"))
	}
	if err != nil {
		panic(err)
	}
	return firm
}

// archiveBatch sends the constructed xbrl zip bundles to Glacier cold
// storage when a vault is configured.
func archiveBatch(fils []*filing.Filing, b bucket.Bucket, l logger.Logger) {
	name := os.Getenv("VAULT_NAME")
	if name == "" {
		return
	}

	awsSession, err := session.NewSession()
	if err != nil {
		l.Log(fmt.Sprintf("AWS session error: %s", err.Error()))
		return
	}
	v := vault.New(awsSession, name)

	for _, fil := range fils {
		for _, doc := range fil.Documents {
			if doc.LocalPath == "" {
				continue
			}
			data, err := b.GetObject(doc.LocalPath)
			if err != nil {
				l.Log(fmt.Sprintf("Bucket error for '%s': %s", doc.LocalPath, err.Error()))
				continue
			}
			if err := v.PutObject(doc.LocalPath, data); err != nil {
				l.Log(fmt.Sprintf("Vault error for '%s': %s", doc.LocalPath, err.Error()))
			}
		}
	}
}

func envOrPanic(key string) string {
	value := os.Getenv(key)
	if len(value) < 1 {
		panic(errors.New(fmt.Sprintf("Environment variable '%s' missing", key)))
	}
	return value
}

func dateOrPanic(key string) time.Time {
	value, err := time.Parse("2006-01-02", envOrPanic(key))
	if err != nil {
		panic(errors.New(fmt.Sprintf("Environment variable '%s' must be a 'YYYY-MM-DD' date", key)))
	}
	return value
}

func intOrDefault(key string, def int) int {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
