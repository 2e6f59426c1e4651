package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{Bucket: " "})
	require.Error(t, err)
}

func TestPutObjectUploadsBody(t *testing.T) {
	t.Parallel()

	bodies := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/upload/storage/v1/b/pages/o") {
			http.NotFound(w, r)
			return
		}
		data, _ := io.ReadAll(r.Body)
		bodies <- string(data)
		_, _ = fmt.Fprintf(w, `{"name": %q, "bucket": "pages"}`, r.URL.Query().Get("name"))
	}))
	defer srv.Close()

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	store, err := New(client, Config{Bucket: "pages"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "raw/7/abc.html", "text/html", bytes.NewBufferString("<html>hi</html>"))
	require.NoError(t, err)
	require.Equal(t, "gs://pages/raw/7/abc.html", uri)
	require.Contains(t, <-bodies, "<html>hi</html>")
	require.NoError(t, store.Close())

	_, err = store.PutObject(context.Background(), "", "text/html", bytes.NewBufferString("x"))
	require.Error(t, err)
}
