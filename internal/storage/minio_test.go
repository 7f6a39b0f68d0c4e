package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMinIOStorage(t *testing.T, endpoint string) *MinIOStorage {
	t.Helper()
	storage, err := NewMinIOStorage(t.TempDir(), MinIOConfig{
		Endpoint:  endpoint,
		Bucket:    "shots",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Region:    "us-east-1",
	})
	require.NoError(t, err)
	return storage
}

func TestMinIOStorage_Upload_MockServer(t *testing.T) {
	var puts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/shots/artifacts/j1/copies.zip" {
			puts.Add(1)
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "zip bytes", string(body))
			assert.Equal(t, "application/zip", r.Header.Get("Content-Type"))
		}
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	storage := newTestMinIOStorage(t, server.URL)
	assert.True(t, storage.RemoteEnabled())

	url, err := storage.Upload(context.Background(), "artifacts/j1/copies.zip", "application/zip",
		strings.NewReader("zip bytes"), int64(len("zip bytes")))
	require.NoError(t, err)
	assert.Equal(t, int32(1), puts.Load())
	assert.Equal(t, server.URL+"/shots/artifacts/j1/copies.zip", url)
}

func TestMinIOStorage_EnsureBucket(t *testing.T) {
	t.Run("exists", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		assert.NoError(t, newTestMinIOStorage(t, server.URL).EnsureBucket(context.Background()))
	})

	t.Run("missing", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		err := newTestMinIOStorage(t, server.URL).EnsureBucket(context.Background())
		assert.ErrorIs(t, err, ErrBucketNotFound)
	})
}

func TestNewMinIOStorage_StripsScheme(t *testing.T) {
	storage := newTestMinIOStorage(t, "http://127.0.0.1:9000")
	assert.Equal(t, "127.0.0.1:9000", storage.client.EndpointURL().Host)
}
