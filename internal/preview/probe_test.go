package preview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProber(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if strings.HasSuffix(r.URL.Path, "missing.pdf") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPProber(srv.Client(), time.Second, 0, 0)

	require.NoError(t, p.Exists(context.Background(), srv.URL+"/ok.pdf"))
	err := p.Exists(context.Background(), srv.URL+"/missing.pdf")
	assert.ErrorContains(t, err, "404")
	assert.Equal(t, []string{http.MethodHead, http.MethodHead}, methods)
}

func TestHTTPProberNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewHTTPProber(nil, time.Second, 10, 1)
	assert.Error(t, p.Exists(context.Background(), url+"/a.pdf"))
}

func TestHTTPProberHonorsContext(t *testing.T) {
	p := NewHTTPProber(nil, time.Second, 0.001, 1)
	// Spend the only token, the next wait cannot be satisfied in time.
	require.True(t, p.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Exists(ctx, "http://127.0.0.1:1/a.pdf"))
}
