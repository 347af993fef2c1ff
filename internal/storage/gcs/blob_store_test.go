package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/seedbank-crawler/internal/storage/gcs"
)

func newStore(t *testing.T, handler http.Handler) *gcs.BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, "snapshots-bucket")
	require.NoError(t, err)
	return store
}

func TestPutObjectUploads(t *testing.T) {
	const object = "snapshots/v1/job/page-001-abcd.html"
	body := []byte("<ul class=\"products\"><li>Gelato</li></ul>")

	store := newStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/snapshots-bucket/o")
		assert.Equal(t, object, r.URL.Query().Get("name"))
		data, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(data), string(body))
		fmt.Fprintf(w, `{"bucket":"snapshots-bucket","name":%q}`, object)
	}))

	uri, err := store.PutObject(context.Background(), object, "text/html", body)
	require.NoError(t, err)
	assert.Equal(t, "gs://snapshots-bucket/"+object, uri)
}

func TestPutObjectSurfacesServerError(t *testing.T) {
	store := newStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	_, err := store.PutObject(context.Background(), "a.html", "text/html", []byte("x"))
	assert.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	_, err := gcs.New(nil, "bucket")
	assert.Error(t, err)
}
