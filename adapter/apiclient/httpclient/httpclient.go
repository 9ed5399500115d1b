package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/IMTorgOpenDataTools/sec-edgar-downloader/adapter/apiclient"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/ratelimit"
)

const maxRetries = 5

// EDGAR tolerates roughly ten requests per second; we stay well below
const requestsPerSecond = 5

type httpClient struct {
	client      *http.Client
	limiter     ratelimit.Limiter
	searchUrl   string
	registryUrl string
}

func New() *httpClient {
	return &httpClient{
		client:      &http.Client{Timeout: 30 * time.Second},
		limiter:     ratelimit.New(requestsPerSecond),
		searchUrl:   apiclient.SearchEndpoint,
		registryUrl: apiclient.RegistryUrl,
	}
}

func (c *httpClient) SearchFilings(ctx context.Context, payload *apiclient.SearchPayload) (*apiclient.SearchResult, error) {

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, "POST", c.searchUrl, body)
	if err != nil {
		return nil, err
	}

	res := &apiclient.SearchResult{}
	if err := json.Unmarshal(data, res); err != nil {
		return nil, err
	}

	// the search API reports some failures inside a 2xx response body
	if res.Error != nil {
		cause := "unknown root cause"
		if len(res.Error.RootCause) > 0 {
			cause = res.Error.RootCause[0].Reason
		}
		return nil, &apiclient.RemoteError{Cause: cause}
	}

	return res, nil
}

func (c *httpClient) GetPage(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, "GET", url, nil)
}

func (c *httpClient) GetDocument(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, "GET", url, nil)
}

func (c *httpClient) GetRegistry(ctx context.Context) (*apiclient.Registry, error) {

	data, err := c.do(ctx, "GET", c.registryUrl, nil)
	if err != nil {
		return nil, err
	}

	res := &apiclient.Registry{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(res); err != nil {
		return nil, err
	}

	return res, nil
}

// do sends one request with the politeness rate limit applied and the
// transient status codes retried with backoff. Exhausting the retry
// budget converts into a RemoteError.
func (c *httpClient) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {

	var result []byte
	operation := func() error {

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		identity := randomIdentity()
		req.Header.Set("User-Agent", identity)
		req.Header.Set("From", identity)
		// the transport offers gzip on its own and transparently
		// decompresses the response, setting the header here would
		// turn that off
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		// respect rate limit before every attempt
		c.limiter.Take()
		res, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		if transient(res.StatusCode) {
			return errors.New(fmt.Sprintf("Got status code '%s'", res.Status))
		}
		if res.StatusCode < 200 || res.StatusCode > 299 {
			return backoff.Permanent(&apiclient.RemoteError{
				Cause: fmt.Sprintf("Got status code '%s' from '%s'", res.Status, url),
			})
		}

		result, err = io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		return nil
	}

	err := backoff.Retry(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx),
	)
	if err != nil {
		remoteErr := &apiclient.RemoteError{}
		if errors.As(err, &remoteErr) {
			return nil, remoteErr
		}
		return nil, &apiclient.RemoteError{Cause: "retry budget exhausted", Err: err}
	}

	return result, nil
}

func transient(status int) bool {
	switch status {
	case 403, 500, 502, 503, 504:
		return true
	}
	return false
}

// randomIdentity fabricates a plausible looking client identity for the
// User-Agent and From headers. EDGAR only requires the fields to be
// populated, the values carry no meaning.
func randomIdentity() string {
	first := randomWord(3 + rand.Intn(5))
	last := randomWord(4 + rand.Intn(6))
	return fmt.Sprintf(
		"%s %s %s.%s@example.com",
		capitalize(first), capitalize(last), first, last,
	)
}

func randomWord(length int) string {
	letters := "abcdefghijklmnopqrstuvwxyz"
	word := make([]byte, length)
	for i := range word {
		word[i] = letters[rand.Intn(len(letters))]
	}
	return string(word)
}

func capitalize(word string) string {
	if len(word) < 1 {
		return word
	}
	return strings.ToUpper(word[:1]) + word[1:]
}
