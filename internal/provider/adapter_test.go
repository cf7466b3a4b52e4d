package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapters_RegisterAndGet(t *testing.T) {
	adapters := NewAdapters()

	adapters.Register("test", AdapterFunc(func(ctx context.Context, credential, prompt string, options map[string]string) (string, error) {
		return "https://example.com/asset.png", nil
	}))

	adapter, ok := adapters.Get("test")
	require.True(t, ok)

	asset, err := adapter.Generate(context.Background(), "key", "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/asset.png", asset)

	_, ok = adapters.Get("missing")
	assert.False(t, ok)
}

func TestDefaultAdapters_CoverCatalog(t *testing.T) {
	adapters := DefaultAdapters(0)

	for _, entry := range catalog {
		_, ok := adapters.Get(entry.ID)
		assert.True(t, ok, "catalog provider %s has no adapter", entry.ID)
	}
}

func TestRestAdapter_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "blue sneakers", payload["prompt"])
		assert.Equal(t, "1024x1024", payload["size"])

		json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.example.com/a.png"})
	}))
	defer srv.Close()

	adapter := &restAdapter{
		client:     srv.Client(),
		endpoint:   srv.URL,
		authHeader: "Authorization",
		authPrefix: "Bearer ",
		assetField: "url",
	}

	asset, err := adapter.Generate(context.Background(), "secret-key", "blue sneakers", map[string]string{"size": "1024x1024"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.png", asset)
}

func TestRestAdapter_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	adapter := &restAdapter{
		client:     srv.Client(),
		endpoint:   srv.URL,
		authHeader: "Authorization",
		assetField: "url",
	}

	_, err := adapter.Generate(context.Background(), "key", "prompt", nil)
	assert.Error(t, err)
}

func TestRestAdapter_MissingAssetField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	adapter := &restAdapter{
		client:     srv.Client(),
		endpoint:   srv.URL,
		authHeader: "Authorization",
		assetField: "url",
	}

	_, err := adapter.Generate(context.Background(), "key", "prompt", nil)
	assert.Error(t, err)
}
