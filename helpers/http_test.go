package helpers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchWithRandomHeaders(t *testing.T) {
	// Create a test server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check that headers are set
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.NotEmpty(t, r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("Accept-Language"))
		assert.NotEmpty(t, r.Header.Get("Referer"))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html><body>Hello, World!</body></html>"))
	}))
	defer server.Close()

	reader, err := FetchWithRandomHeaders(context.Background(), NewClient(5*time.Second), server.URL)
	require.NoError(t, err)

	body, err := io.ReadAll(reader)
	assert.NoError(t, err)
	assert.Contains(t, string(body), "Hello, World!")
}

func TestFetchWithRandomHeadersNonUTF8(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		w.WriteHeader(http.StatusOK)
		// 0xA3 is the pound sign in ISO-8859-1
		w.Write([]byte("<html><body>Price \xa35</body></html>"))
	}))
	defer server.Close()

	reader, err := FetchWithRandomHeaders(context.Background(), NewClient(5*time.Second), server.URL)
	require.NoError(t, err)

	body, err := io.ReadAll(reader)
	assert.NoError(t, err)
	assert.Contains(t, string(body), "Price £5")
}

func TestFetchWithRandomHeadersError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := FetchWithRandomHeaders(context.Background(), NewClient(5*time.Second), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code: 500")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.False(t, statusErr.RateLimited())

	// Test with rate limiting
	serverRateLimited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer serverRateLimited.Close()

	_, err = FetchWithRandomHeaders(context.Background(), NewClient(5*time.Second), serverRateLimited.URL)
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.RateLimited())
	assert.Equal(t, "60", statusErr.RetryAfter)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestFetchWithRandomHeadersTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := FetchWithRandomHeaders(context.Background(), NewClient(50*time.Millisecond), server.URL)
	assert.Error(t, err)
}

func TestFetchWithRandomHeadersInvalidURL(t *testing.T) {
	_, err := FetchWithRandomHeaders(context.Background(), NewClient(time.Second), "http://invalid.url.that.does.not.exist")
	assert.Error(t, err)
}

func TestExpandURL(t *testing.T) {
	assert.Equal(t, "https://www.airalo.com/japan-esim", ExpandURL("https://www.airalo.com/{slug}-esim", "japan"))
	assert.Equal(t, "https://www.getnomad.app/united-states-esim", ExpandURL("https://www.getnomad.app/{slug}-esim", "united-states"))
}

func TestCollapseSpaces(t *testing.T) {
	assert.Equal(t, "1 GB For 7 DAYS USD 4", CollapseSpaces("  1 GB\n\tFor 7   DAYS USD 4 "))
}
