package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
)

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, "<p>%s|%s</p>", r.Header.Get("User-Agent"), r.Header.Get("Accept-Language"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "SeedbankCrawler/1.0", AcceptLanguage: "en-US", Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/shop/"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<p>SeedbankCrawler/1.0|en-US</p>", string(resp.Body))

	// A second fetch of the same URL must not be rejected as already visited.
	_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/shop/"})
	require.NoError(t, err)
}

func TestFetchClassifiesStatusErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/forbidden":
			w.WriteHeader(http.StatusForbidden)
		case "/busy":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/forbidden"})
	var ce *crawler.Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, crawler.KindAuth, ce.Kind)
	require.Equal(t, http.StatusForbidden, ce.StatusCode)

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/busy"})
	require.ErrorAs(t, err, &ce)
	require.Equal(t, crawler.KindNetwork, ce.Kind)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.True(t, crawler.IsRetryable(err))

	_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/missing"})
	require.ErrorAs(t, err, &ce)
	require.Equal(t, http.StatusNotFound, ce.StatusCode)
	require.False(t, crawler.IsRetryable(err))
}

func TestFetchCanceledReturnsEmptyResponse(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("<p>late</p>"))
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	resp, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL + "/shop/"})
	var ce *crawler.Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, crawler.KindTimeout, ce.Kind)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, crawler.FetchResponse{}, resp)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{AcceptLanguage: "en-CA"})
	req := crawler.FetchRequest{
		URL:     "https://example.com",
		Headers: map[string]string{"X-Trace": "yes"},
	}
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	require.Equal(t, "en-CA", collyReq.Headers.Get("Accept-Language"))

	hooks.onError(nil, errors.New("boom"))
	var ce *crawler.Error
	require.ErrorAs(t, fetchErr, &ce)
	require.Equal(t, crawler.KindNetwork, ce.Kind)
	require.Zero(t, ce.StatusCode)
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
