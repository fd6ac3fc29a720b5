package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/crawl-scheduler/pkg/fetch"
	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

// robotsServer serves body with status at /robots.txt and counts hits.
func robotsServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	hits := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, hits
}

func serverDomain(server *httptest.Server) string {
	return strings.TrimPrefix(server.URL, "http://")
}

func testSource(agent string) *HTTPRulesSource {
	policy := fetch.RetryPolicy{MaxRetries: 0}
	f := fetch.NewFetcher(&http.Client{Timeout: 5 * time.Second}, policy, testLogger())
	return NewHTTPRulesSource(f, RobotstxtParser{UserAgent: agent}, "http", agent, testLogger())
}

func TestHTTPRulesSource_RobotsURL(t *testing.T) {
	s := NewHTTPRulesSource(nil, RobotstxtParser{}, "", "", testLogger())

	assert.Equal(t, "https://example.com/robots.txt", s.RobotsURL("example.com"))
	assert.Equal(t, "https://example.com:8443/robots.txt", s.RobotsURL("example.com:8443"))
	assert.Equal(t, "https://[::1]/robots.txt", s.RobotsURL("[::1]"))
}

func TestHTTPRulesSource_Load(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantErr     bool
		wantAllowed bool
	}{
		{"disallow all", 200, "User-agent: *" + crlf + "Disallow: /", false, false},
		{"allow all", 200, "User-agent: *" + crlf + "Disallow:", false, true},
		{"missing robots", 404, "not found", false, true},
		{"forbidden robots", 403, "", false, true},
		{"server error", 500, "", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, hits := robotsServer(t, tt.status, tt.body)

			rules, err := testSource("crawl-scheduler/1.0").Load(context.Background(), serverDomain(server))

			assert.Equal(t, int32(1), hits.Load())
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, utils.ErrRulesFetch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, rules.Allowed("/page.html"))
		})
	}
}

func TestHTTPRulesSource_ServerErrorCategory(t *testing.T) {
	server, _ := robotsServer(t, 503, "")

	_, err := testSource("crawl-scheduler/1.0").Load(context.Background(), serverDomain(server))

	require.Error(t, err)
	assert.Equal(t, "Rules_HTTP5xx", utils.CategorizeError(err))
}

func TestHTTPRulesSource_SendsUserAgent(t *testing.T) {
	var gotUA atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.UserAgent())
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /admin\n"))
	}))
	t.Cleanup(server.Close)

	rules, err := testSource("polite-bot/0.1").Load(context.Background(), serverDomain(server))

	require.NoError(t, err)
	assert.Equal(t, "polite-bot/0.1", gotUA.Load())
	assert.False(t, rules.Allowed("/admin/users"))
	assert.True(t, rules.Allowed("/docs"))
}

func TestHTTPRulesSource_Unreachable(t *testing.T) {
	server, _ := robotsServer(t, 200, "")
	domain := serverDomain(server)
	server.Close()

	_, err := testSource("crawl-scheduler/1.0").Load(context.Background(), domain)

	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrRulesFetch)
	assert.ErrorIs(t, err, utils.ErrRetryFailed)
}

func TestHTTPRulesSource_ParserError(t *testing.T) {
	server, _ := robotsServer(t, 200, "User-agent: *\n")
	f := fetch.NewFetcher(&http.Client{Timeout: 5 * time.Second}, fetch.RetryPolicy{}, testLogger())
	failing := ParserFunc(func(int, []byte) (*ExclusionRules, error) {
		return nil, fmt.Errorf("%w: robots.txt body", utils.ErrParsing)
	})
	s := NewHTTPRulesSource(f, failing, "http", "", testLogger())

	_, err := s.Load(context.Background(), serverDomain(server))

	require.Error(t, err)
	assert.Equal(t, "Rules_Parse", utils.CategorizeError(err))
}

func TestHTTPRulesSource_RateLimit(t *testing.T) {
	server, hits := robotsServer(t, http.StatusOK, "User-agent: *\nAllow: /\n")
	s := testSource("bot").WithRateLimit(0.5, 1)

	_, err := s.Load(context.Background(), serverDomain(server))
	require.NoError(t, err)

	// The next token is two seconds away, past this deadline
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = s.Load(ctx, serverDomain(server))
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrRulesFetch)
	assert.Equal(t, int32(1), hits.Load())

	s.WithRateLimit(0, 0)
	_, err = s.Load(context.Background(), serverDomain(server))
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestStaticSource(t *testing.T) {
	src := StaticSource(DisallowAll())

	rules, err := src.Load(context.Background(), "anything.example")

	require.NoError(t, err)
	assert.False(t, rules.Allowed("/"))
}

// newSlowRobotsServer holds every request until release is closed or the client gives up.
func newSlowRobotsServer(t *testing.T, release <-chan struct{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
	}))
	t.Cleanup(server.Close)
	return server
}
