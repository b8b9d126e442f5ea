package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"panplay/cache"
	"panplay/internal"
)

func TestDirectoryService_ListDirCachesSuccess(t *testing.T) {
	f := newFakeUpstream(t)
	seedMovie(f)
	store := cache.New()
	dir := NewDirectoryService(newTestClient(), store, f.server.URL)
	cred := testCredential(t)

	files, err := dir.ListDir(context.Background(), cred, "/videos", 1, 100)
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(files) != 2 || !files[0].IsDir || files[1].Name != "movie.mp4" {
		t.Errorf("unexpected listing: %+v", files)
	}

	if _, err := dir.ListDir(context.Background(), cred, "/videos", 1, 100); err != nil {
		t.Fatalf("second ListDir: %v", err)
	}
	if got := f.callsTo("/api/list"); got != 1 {
		t.Errorf("expected cached second listing, got %d upstream calls", got)
	}

	if _, ok := store.Get(FileListCacheKey(cred, "/videos", 1, 100)); !ok {
		t.Error("expected listing under its cache key")
	}
}

func TestDirectoryService_ListDirErrnoNotCached(t *testing.T) {
	f := newFakeUpstream(t)
	f.listErrno = -6
	dir := NewDirectoryService(newTestClient(), cache.New(), f.server.URL)
	cred := testCredential(t)

	for i := 0; i < 2; i++ {
		_, err := dir.ListDir(context.Background(), cred, "/", 1, 100)
		assertErrorType(t, err, internal.ErrCredentialMissing)
	}
	if got := f.callsTo("/api/list"); got != 2 {
		t.Errorf("failed listings must not be cached, got %d upstream calls", got)
	}
}

func TestDirectoryService_ListDirParams(t *testing.T) {
	var got http.Header
	var query map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		q := r.URL.Query()
		query = map[string]string{}
		for _, k := range []string{"dir", "page", "num", "order", "desc", "web", "folder"} {
			query[k] = q.Get(k)
		}
		writeJSON(w, map[string]interface{}{"errno": 0, "list": []rawFile{}})
	}))
	defer server.Close()

	dir := NewDirectoryService(newTestClient(), nil, server.URL)
	if _, err := dir.ListDir(context.Background(), testCredential(t), "/docs", 2, 50); err != nil {
		t.Fatalf("ListDir: %v", err)
	}

	want := map[string]string{"dir": "/docs", "page": "2", "num": "50", "order": "name", "desc": "0", "web": "1", "folder": "0"}
	for k, v := range want {
		if query[k] != v {
			t.Errorf("param %s: expected %q, got %q", k, v, query[k])
		}
	}
	if got.Get("Cookie") != testCookie {
		t.Errorf("expected account cookie, got %q", got.Get("Cookie"))
	}
	if got.Get("User-Agent") != "Mozilla/5.0 (Linux; Android 13) AppleWebKit/537.36 netdisk" {
		t.Errorf("unexpected identity user agent %q", got.Get("User-Agent"))
	}
	if got.Get("Referer") != "https://pan.baidu.com" {
		t.Errorf("unexpected referer %q", got.Get("Referer"))
	}
}

func TestDirectoryService_UndecodableBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>login</html>"))
	}))
	defer server.Close()

	dir := NewDirectoryService(newTestClient(), nil, server.URL)
	_, err := dir.ListDir(context.Background(), testCredential(t), "/", 1, 100)
	assertErrorType(t, err, internal.ErrUpstreamTransport)
}

func TestDirectoryService_FileMeta(t *testing.T) {
	f := newFakeUpstream(t)
	seedMovie(f)
	dir := NewDirectoryService(newTestClient(), nil, f.server.URL)
	cred := testCredential(t)

	desc, err := dir.FileMeta(context.Background(), cred, 42)
	if err != nil {
		t.Fatalf("FileMeta: %v", err)
	}
	if desc.Path != "/videos/movie.mp4" || desc.DLink == "" || desc.Size != 734003200 {
		t.Errorf("unexpected descriptor: %+v", desc)
	}

	_, err = dir.FileMeta(context.Background(), cred, 7)
	assertErrorType(t, err, internal.ErrNotFound)
}

func TestDirectoryService_FindByPath(t *testing.T) {
	f := newFakeUpstream(t)
	seedMovie(f)
	f.dirs["/"] = []rawFile{{FsID: 9, Path: "/root.mkv", Filename: "root.mkv"}}
	dir := NewDirectoryService(newTestClient(), cache.New(), f.server.URL)
	cred := testCredential(t)

	tests := []struct {
		path   string
		expect int64
		errT   internal.ErrorType
	}{
		{path: "/videos/movie.mp4", expect: 42},
		{path: "videos/movie.mp4", expect: 42},
		{path: "/root.mkv", expect: 9},
		{path: "/videos/Movie.mp4", errT: internal.ErrNotFound},
		{path: "/nowhere/movie.mp4", errT: internal.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			desc, err := dir.FindByPath(context.Background(), cred, tt.path)
			if tt.expect == 0 {
				assertErrorType(t, err, tt.errT)
				return
			}
			if err != nil {
				t.Fatalf("FindByPath: %v", err)
			}
			if desc.FsID != tt.expect {
				t.Errorf("expected fs_id %d, got %d", tt.expect, desc.FsID)
			}
		})
	}
}

func TestDirectoryService_FindByPathPages(t *testing.T) {
	var pages []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		files := make([]rawFile, 0, DefaultPageSize)
		if page == "1" {
			for i := 0; i < DefaultPageSize; i++ {
				files = append(files, rawFile{FsID: int64(i + 1), Filename: fmt.Sprintf("file%03d.mp4", i)})
			}
		} else {
			files = append(files, rawFile{FsID: 500, Filename: "zzz.mp4"})
		}
		writeJSON(w, map[string]interface{}{"errno": 0, "list": files})
	}))
	defer server.Close()

	dir := NewDirectoryService(newTestClient(), nil, server.URL)
	desc, err := dir.FindByPath(context.Background(), testCredential(t), "/big/zzz.mp4")
	if err != nil {
		t.Fatalf("FindByPath: %v", err)
	}
	if desc.FsID != 500 {
		t.Errorf("expected fs_id 500, got %d", desc.FsID)
	}
	if len(pages) != 2 {
		t.Errorf("expected 2 pages scanned, got %v", pages)
	}
}

func TestDirectoryService_Search(t *testing.T) {
	f := newFakeUpstream(t)
	seedMovie(f)
	dir := NewDirectoryService(newTestClient(), nil, f.server.URL)

	files, err := dir.Search(context.Background(), testCredential(t), "movie", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(files) != 1 || files[0].FsID != 42 {
		t.Errorf("unexpected search results: %+v", files)
	}

	if _, err := dir.Search(context.Background(), testCredential(t), "  ", 1); err == nil {
		t.Error("expected validation error for empty keyword")
	}
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		in, dir, name string
	}{
		{"/videos/movie.mp4", "/videos", "movie.mp4"},
		{"/movie.mp4", "/", "movie.mp4"},
		{"movie.mp4", "/", "movie.mp4"},
		{"/a/b/../c.mkv", "/a", "c.mkv"},
		{"/", "/", ""},
	}
	for _, tt := range tests {
		dir, name := splitPath(tt.in)
		if dir != tt.dir || name != tt.name {
			t.Errorf("splitPath(%q) = (%q, %q), want (%q, %q)", tt.in, dir, name, tt.dir, tt.name)
		}
	}
}
