package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "results", CacheControl: "no-store"})
	require.NoError(t, err)
	assert.Equal(t, "no-store", store.cacheControl)

	_, err = store.PutObject(context.Background(), " / ", "application/json", []byte("{}"))
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"results/page/j/r.json":     "results/page/j/r.json",
		"/results//page/./r.json":   "results/page/r.json",
		"../../etc/passwd":          "etc/passwd",
		" results/youtube/j/r.json": "results/youtube/j/r.json",
	}
	for in, want := range tests {
		got, err := objectName(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "/", " ", "."} {
		_, err := objectName(bad)
		assert.Error(t, err, bad)
	}
}

func TestObjectURI(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "gs://bucket/results/page/j/r.json", ObjectURI("bucket", "/results/page/j/r.json"))
}
