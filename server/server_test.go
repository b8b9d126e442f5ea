package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"panplay/cache"
	"panplay/internal"
	"panplay/metrics"
	"panplay/resolver"
	"panplay/utils"
)

const testCookie = "BDUSS=server_bduss; STOKEN=server_stoken"

func TestMain(m *testing.M) {
	internal.SetLogger(internal.NewSecureLogger(io.Discard, internal.LogLevelError, false, true))
	os.Exit(m.Run())
}

// upstream fakes the storage provider endpoints the server reaches through the pipeline
type upstream struct {
	server *httptest.Server

	mu      sync.Mutex
	cookies []string
	hits    map[string]int
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{hits: map[string]int{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/list", func(w http.ResponseWriter, r *http.Request) {
		u.record(r)
		files := []map[string]interface{}{}
		if r.URL.Query().Get("dir") == "/videos" {
			files = append(files, map[string]interface{}{
				"fs_id": 42, "path": "/videos/movie.mp4", "server_filename": "movie.mp4", "size": 1024, "isdir": 0,
			})
		}
		respond(w, map[string]interface{}{"errno": 0, "list": files})
	})
	mux.HandleFunc("/api/filemetas", func(w http.ResponseWriter, r *http.Request) {
		u.record(r)
		if r.URL.Query().Get("fsids") != "[42]" {
			respond(w, map[string]interface{}{"errno": 0, "list": []interface{}{}})
			return
		}
		respond(w, map[string]interface{}{"errno": 0, "list": []map[string]interface{}{{
			"fs_id": 42, "path": "/videos/movie.mp4", "server_filename": "movie.mp4", "size": 1024,
			"dlink": "https://d.pcs.example/file/42",
		}}})
	})
	mux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		u.record(r)
		respond(w, map[string]interface{}{"errno": 0, "list": []map[string]interface{}{
			{"fs_id": 42, "path": "/videos/movie.mp4", "server_filename": "movie.mp4"},
		}})
	})
	mux.HandleFunc("/rest/2.0/pcs/file", func(w http.ResponseWriter, r *http.Request) {
		u.record(r)
		http.Redirect(w, r, "https://stream.example/"+r.URL.Query().Get("type")+".m3u8", http.StatusFound)
	})
	mux.HandleFunc("/share/verify", func(w http.ResponseWriter, r *http.Request) {
		u.record(r)
		respond(w, map[string]interface{}{"errno": 0, "randsk": "rk", "shareid": 99})
	})
	mux.HandleFunc("/share/list", func(w http.ResponseWriter, r *http.Request) {
		u.record(r)
		respond(w, map[string]interface{}{"errno": 0, "list": []map[string]interface{}{
			{"fs_id": 7, "path": "/shared/clip.mp4", "server_filename": "clip.mp4"},
		}})
	})

	u.server = httptest.NewServer(mux)
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) record(r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.hits[r.URL.Path]++
	u.cookies = append(u.cookies, r.Header.Get("Cookie"))
}

func (u *upstream) count(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[path]
}

func respond(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func newTestServer(t *testing.T) (*httptest.Server, *upstream, *cache.TTLCache) {
	t.Helper()
	u := newUpstream(t)

	client := utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
		Timeout: 5 * time.Second,
		RetryConfig: &utils.RetryConfig{
			MaxAttempts:   2,
			BaseDelay:     time.Millisecond,
			MaxDelay:      time.Millisecond,
			Multiplier:    2,
			RetryStatuses: []int{503},
		},
	})
	endpoints := utils.Endpoints{Pan: u.server.URL, PCS: u.server.URL, OAuthToken: u.server.URL + "/oauth/2.0/token"}
	store := cache.New()

	srv := New(Options{
		Pipeline: resolver.NewPipeline(resolver.PipelineConfig{
			Client:    client,
			Cache:     store,
			Tokens:    resolver.NewTokenRegistry(endpoints.OAuthToken, client.StdClient()),
			Endpoints: endpoints,
		}),
		Cache: store,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, u, store
}

func postJSON(t *testing.T, target string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(target, "application/json", strings.NewReader(string(payload)))
	if err != nil {
		t.Fatalf("POST %s: %v", target, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	var body map[string]string
	decode(t, resp, &body)

	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["service"] != ServiceName {
		t.Errorf("unexpected health response %d %v", resp.StatusCode, body)
	}
}

func TestInfoListsEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/info")
	if err != nil {
		t.Fatalf("GET /info: %v", err)
	}
	var body struct {
		Version   string            `json:"version"`
		Endpoints map[string]string `json:"endpoints"`
	}
	decode(t, resp, &body)

	if body.Version != Version {
		t.Errorf("expected version %s, got %s", Version, body.Version)
	}
	for _, name := range []string{"play", "play_advanced", "list", "search", "cache_clear"} {
		if body.Endpoints[name] == "" {
			t.Errorf("endpoint %s missing from info", name)
		}
	}
}

func TestPlay(t *testing.T) {
	tests := []struct {
		name       string
		do         func(base string) (*http.Response, error)
		expectURL  string
		expectQual string
	}{
		{
			name: "get_by_path",
			do: func(base string) (*http.Response, error) {
				q := url.Values{"cookie": {testCookie}, "file_path": {"/videos/movie.mp4"}}
				return http.Get(base + "/play?" + q.Encode())
			},
			expectURL:  "https://stream.example/M3U8_AUTO_480.m3u8",
			expectQual: "AUTO_480",
		},
		{
			name: "get_by_fsid_alias",
			do: func(base string) (*http.Response, error) {
				q := url.Values{"cookie": {testCookie}, "fsid": {"42"}, "quality": {"auto_720"}}
				return http.Get(base + "/play?" + q.Encode())
			},
			expectURL:  "https://stream.example/M3U8_AUTO_720.m3u8",
			expectQual: "auto_720",
		},
		{
			name: "post_json_numeric_fs_id",
			do: func(base string) (*http.Response, error) {
				return http.Post(base+"/play", "application/json",
					strings.NewReader(`{"cookie":"`+testCookie+`","fs_id":42}`))
			},
			expectURL:  "https://stream.example/M3U8_AUTO_480.m3u8",
			expectQual: "AUTO_480",
		},
		{
			name: "post_form_path_alias",
			do: func(base string) (*http.Response, error) {
				return http.PostForm(base+"/play", url.Values{"cookie": {testCookie}, "path": {"/videos/movie.mp4"}})
			},
			expectURL:  "https://stream.example/M3U8_AUTO_480.m3u8",
			expectQual: "AUTO_480",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _, _ := newTestServer(t)

			resp, err := tt.do(ts.URL)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			var result internal.PlayResult
			decode(t, resp, &result)

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			if result.URL != tt.expectURL || result.Quality != tt.expectQual {
				t.Errorf("unexpected result %+v", result)
			}
			if result.Header["User-Agent"] != "netdisk" || result.Header["Referer"] != "https://pan.baidu.com" {
				t.Errorf("unexpected player headers %v", result.Header)
			}
		})
	}
}

func TestPlayErrors(t *testing.T) {
	tests := []struct {
		name       string
		query      url.Values
		expectType string
	}{
		{name: "missing_cookie", query: url.Values{"file_path": {"/videos/movie.mp4"}}, expectType: "CredentialMissing"},
		{name: "missing_identifier", query: url.Values{"cookie": {testCookie}}, expectType: "InvalidInput"},
		{name: "bad_fs_id", query: url.Values{"cookie": {testCookie}, "fs_id": {"abc"}}, expectType: "InvalidInput"},
		{name: "not_found", query: url.Values{"cookie": {testCookie}, "file_path": {"/videos/none.mp4"}}, expectType: "NotFound"},
		{name: "share_unsupported", query: url.Values{"cookie": {testCookie}, "share_url": {"https://pan.baidu.com/s/1AbC"}, "fs_id": {"42"}}, expectType: "UnsupportedOperation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _, _ := newTestServer(t)

			resp, err := http.Get(ts.URL + "/play?" + tt.query.Encode())
			if err != nil {
				t.Fatalf("GET /play: %v", err)
			}
			var body errorResponse
			decode(t, resp, &body)

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
			if !body.Error || body.Type != tt.expectType {
				t.Errorf("expected %s error, got %+v", tt.expectType, body)
			}
			if body.URL != "" || body.Message == "" {
				t.Errorf("error body must carry a message and no url: %+v", body)
			}
			if body.RequestID == "" || body.RequestID != resp.Header.Get(RequestIDHeader) {
				t.Errorf("error body must echo the request id, got %q", body.RequestID)
			}
		})
	}
}

func TestPlayAdvanced(t *testing.T) {
	ts, u, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/play/advanced", map[string]interface{}{
		"cookie": testCookie, "fs_id": "42", "quality": "M3U8_AUTO_1080",
	})
	var result internal.PlayResult
	decode(t, resp, &result)
	if resp.StatusCode != http.StatusOK || result.URL != "https://stream.example/M3U8_AUTO_1080.m3u8" {
		t.Errorf("unexpected advanced result %d %+v", resp.StatusCode, result)
	}

	resp = postJSON(t, ts.URL+"/play/advanced", map[string]interface{}{
		"cookie": testCookie, "file_path": "/videos/movie.mp4",
	})
	var body errorResponse
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusBadRequest || body.Type != "InvalidInput" {
		t.Errorf("expected fs_id to be required, got %d %+v", resp.StatusCode, body)
	}

	formResp, err := http.PostForm(ts.URL+"/play/advanced", url.Values{"cookie": {testCookie}, "fs_id": {"42"}})
	if err != nil {
		t.Fatalf("POST form: %v", err)
	}
	formResp.Body.Close()
	if formResp.StatusCode != http.StatusBadRequest {
		t.Errorf("advanced endpoint must reject non-JSON bodies, got %d", formResp.StatusCode)
	}

	if u.count("/api/filemetas") != 1 {
		t.Errorf("expected one metadata lookup, got %d", u.count("/api/filemetas"))
	}
}

func TestPlayCachesAcrossRequests(t *testing.T) {
	ts, u, store := newTestServer(t)
	q := url.Values{"cookie": {testCookie}, "fs_id": {"42"}}.Encode()

	for i := 0; i < 3; i++ {
		resp, err := http.Get(ts.URL + "/play?" + q)
		if err != nil {
			t.Fatalf("GET /play: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
	}

	if got := u.count("/rest/2.0/pcs/file"); got != 1 {
		t.Errorf("expected one streaming call, got %d", got)
	}
	if store.Len() != 1 {
		t.Errorf("expected one cached entry, got %d", store.Len())
	}
}

func TestList(t *testing.T) {
	ts, u, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/list", map[string]interface{}{"cookie": testCookie, "dir": "/videos", "page": 1, "size": 50})
	var body struct {
		Errno int                       `json:"errno"`
		List  []internal.FileDescriptor `json:"list"`
	}
	decode(t, resp, &body)

	if resp.StatusCode != http.StatusOK || body.Errno != 0 || len(body.List) != 1 || body.List[0].FsID != 42 {
		t.Errorf("unexpected listing %d %+v", resp.StatusCode, body)
	}

	getResp, err := http.Get(ts.URL + "/list?" + url.Values{"cookie": {testCookie}}.Encode())
	if err != nil {
		t.Fatalf("GET /list: %v", err)
	}
	var root struct {
		List []internal.FileDescriptor `json:"list"`
	}
	decode(t, getResp, &root)
	if root.List == nil {
		t.Error("empty directory must list as an empty array")
	}

	badResp, err := http.Get(ts.URL + "/list?" + url.Values{"cookie": {testCookie}, "page": {"zero"}}.Encode())
	if err != nil {
		t.Fatalf("GET /list: %v", err)
	}
	badResp.Body.Close()
	if badResp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad page, got %d", badResp.StatusCode)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	for _, cookie := range u.cookies {
		if cookie != testCookie {
			t.Errorf("expected caller cookie upstream, got %q", cookie)
		}
	}
}

func TestSearch(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/search", map[string]interface{}{"cookie": testCookie, "keyword": "movie"})
	var body struct {
		Keyword string                    `json:"keyword"`
		Count   int                       `json:"count"`
		Results []internal.FileDescriptor `json:"results"`
	}
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body.Keyword != "movie" || body.Count != 1 {
		t.Errorf("unexpected search response %d %+v", resp.StatusCode, body)
	}

	resp = postJSON(t, ts.URL+"/search", map[string]interface{}{"cookie": testCookie})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without keyword, got %d", resp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/search")
	if err != nil {
		t.Fatalf("GET /search: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET /search, got %d", getResp.StatusCode)
	}
}

func TestCacheEndpoints(t *testing.T) {
	ts, _, store := newTestServer(t)
	store.Set("stale", 1, time.Nanosecond)
	store.Set("fresh", 2, time.Hour)
	time.Sleep(time.Millisecond)

	resp := postJSON(t, ts.URL+"/cache/cleanup", nil)
	var cleanup struct {
		Removed int `json:"removed"`
	}
	decode(t, resp, &cleanup)
	if cleanup.Removed != 1 || store.Len() != 1 {
		t.Errorf("expected 1 expired entry removed, got %d (Len %d)", cleanup.Removed, store.Len())
	}

	resp = postJSON(t, ts.URL+"/cache/clear", nil)
	var cleared struct {
		Cleared int `json:"cleared"`
	}
	decode(t, resp, &cleared)
	if cleared.Cleared != 1 || store.Len() != 0 {
		t.Errorf("expected cache emptied, got cleared=%d Len=%d", cleared.Cleared, store.Len())
	}
}

func TestRequestID(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if _, err := uuid.Parse(resp.Header.Get(RequestIDHeader)); err != nil {
		t.Errorf("expected generated uuid, got %q", resp.Header.Get(RequestIDHeader))
	}

	incoming := uuid.NewString()
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set(RequestIDHeader, incoming)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get(RequestIDHeader) != incoming {
		t.Errorf("expected incoming id to be kept, got %q", resp.Header.Get(RequestIDHeader))
	}

	req.Header.Set(RequestIDHeader, "not-a-uuid")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get(RequestIDHeader) == "not-a-uuid" {
		t.Error("malformed incoming id must be replaced")
	}
}

func TestMetricsMiddleware(t *testing.T) {
	ts, _, _ := newTestServer(t)
	before := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("POST", "/cache/cleanup", "200"))

	resp := postJSON(t, ts.URL+"/cache/cleanup", nil)
	resp.Body.Close()

	after := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("POST", "/cache/cleanup", "200"))
	if after-before != 1 {
		t.Errorf("expected one recorded request, got %v", after-before)
	}

	metricsResp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer metricsResp.Body.Close()
	raw, _ := io.ReadAll(metricsResp.Body)
	if !strings.Contains(string(raw), "panplay_http_requests_total") {
		t.Error("expected exposition to include the request counter")
	}
}

func TestUnknownRoute(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	var body errorResponse
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusNotFound || !body.Error {
		t.Errorf("unexpected response %d %+v", resp.StatusCode, body)
	}
}

func TestSanitizeLogField(t *testing.T) {
	if got := sanitizeLogField("/play\r\nINFO forged\x1b[31m"); got != "/play  INFO forged[31m" {
		t.Errorf("unexpected sanitized field %q", got)
	}
}
