package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"panplay/internal"
	"panplay/resolver"
)

const maxBodyBytes = 1 << 20

// params is a flat view of a request's query string, form or JSON body
type params map[string]string

// first returns the first non-empty value among the given aliases
func (p params) first(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(p[key]); v != "" {
			return v
		}
	}
	return ""
}

// intParam parses an optional positive integer parameter
func (p params) intParam(def int, keys ...string) (int, error) {
	raw := p.first(keys...)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, internal.NewValidationErrorWithValue(keys[0], "must be a positive integer", raw)
	}
	return n, nil
}

// readParams collects parameters. GET reads the query string; POST reads a
// JSON object, or a form body when one is sent. jsonOnly rejects anything
// but a JSON object.
func readParams(r *http.Request, jsonOnly bool) (params, error) {
	out := params{}
	if r.Method == http.MethodGet {
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				out[key] = values[0]
			}
		}
		return out, nil
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !jsonOnly && (mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return nil, internal.NewValidationError("body", "malformed form body")
		}
		for key, values := range r.Form {
			if len(values) > 0 {
				out[key] = values[0]
			}
		}
		return out, nil
	}

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) && !jsonOnly {
			return out, nil
		}
		return nil, internal.NewValidationError("body", "request body must be a JSON object").
			WithSuggestion("Send Content-Type: application/json with an object body")
	}
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
		case string:
			out[key] = v
		case json.Number:
			out[key] = v.String()
		case bool:
			out[key] = strconv.FormatBool(v)
		default:
			out[key] = fmt.Sprint(v)
		}
	}
	return out, nil
}

// credential builds the caller's credential. Client id/secret fall back to
// the server's configured application identity.
func (s *Server) credential(p params) (*internal.Credential, error) {
	cred, err := resolver.ParseCredential(p.first("cookie"))
	if err != nil {
		return nil, err
	}
	cred.RefreshToken = p.first("refresh_token")
	cred.ClientID = p.first("client_id")
	cred.ClientSecret = p.first("client_secret")
	if cred.ClientID == "" {
		cred.ClientID = s.clientID
		cred.ClientSecret = s.clientSecret
	}
	return cred, nil
}

// playRequest maps parameters onto a resolution request. A share url wins
// over an fs_id, which wins over a path.
func (s *Server) playRequest(p params) (resolver.Request, error) {
	cred, err := s.credential(p)
	if err != nil {
		return resolver.Request{}, err
	}

	req := resolver.Request{
		Quality:    p.first("quality"),
		Credential: cred,
	}

	if shareURL := p.first("share_url", "url"); shareURL != "" {
		req.Kind = internal.KindShare
		req.ShareURL = shareURL
		req.Pwd = p.first("pwd")
		return req, nil
	}

	if raw := p.first("fs_id", "fsid"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return req, internal.NewValidationErrorWithValue("fs_id", "fs_id must be a positive integer", raw)
		}
		req.Kind = internal.KindFileID
		req.FileID = id
		return req, nil
	}

	if filePath := p.first("file_path", "path"); filePath != "" {
		req.Kind = internal.KindPath
		req.Path = filePath
	}
	return req, nil
}

// Health reports liveness
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": ServiceName,
		"uptime":  time.Since(s.startedAt).Truncate(time.Second).String(),
	})
}

// Info describes the API
func (s *Server) Info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "panplay",
		"version":     Version,
		"description": "Resolves Baidu Pan files into directly playable URLs",
		"endpoints": map[string]string{
			"health":        "GET /health",
			"info":          "GET /info",
			"play":          "GET|POST /play",
			"play_advanced": "POST /play/advanced",
			"list":          "GET|POST /list",
			"search":        "POST /search",
			"cache_clear":   "POST /cache/clear",
			"cache_cleanup": "POST /cache/cleanup",
			"metrics":       "GET /metrics",
		},
		"usage": map[string]interface{}{
			"play": map[string]interface{}{
				"params": map[string]string{
					"cookie":        "BDUSS=xxx; STOKEN=xxx (required)",
					"file_path":     "/videos/movie.mp4",
					"fs_id":         "file id",
					"share_url":     "https://pan.baidu.com/s/1xxxxx",
					"pwd":           "extraction code",
					"quality":       "AUTO_480, AUTO_720, AUTO_1080",
					"refresh_token": "optional, enables access token refresh",
				},
				"example": "/play?cookie=BDUSS=xxx&file_path=/videos/movie.mp4",
			},
		},
	})
}

// Play resolves a path, fs_id or share url into a play result
func (s *Server) Play(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.resolve(w, r, p, false)
}

// PlayAdvanced resolves an fs_id at a chosen quality. It only accepts JSON.
func (s *Server) PlayAdvanced(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.resolve(w, r, p, true)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request, p params, fileIDOnly bool) {
	req, err := s.playRequest(p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if fileIDOnly && req.Kind != internal.KindFileID {
		writeError(w, r, internal.NewValidationError("fs_id", "fs_id cannot be empty"))
		return
	}

	result, err := s.pipeline.Resolve(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// List returns one page of a directory
func (s *Server) List(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cred, err := s.credential(p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := p.intParam(1, "page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, err := p.intParam(resolver.DefaultPageSize, "size")
	if err != nil {
		writeError(w, r, err)
		return
	}

	dir := p.first("dir")
	if dir == "" {
		dir = "/"
	}

	files, err := s.pipeline.Directory().ListDir(r.Context(), cred, dir, page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"errno": 0, "list": files})
}

// Search finds files by name
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(r, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cred, err := s.credential(p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := p.intParam(1, "page")
	if err != nil {
		writeError(w, r, err)
		return
	}

	keyword := p.first("keyword")
	results, err := s.pipeline.Directory().Search(r.Context(), cred, keyword, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keyword": keyword,
		"count":   len(results),
		"results": results,
	})
}

// ClearCache drops every cached play result and listing
func (s *Server) ClearCache(w http.ResponseWriter, _ *http.Request) {
	cleared := 0
	if s.cache != nil {
		cleared = s.cache.Len()
		s.cache.Clear()
	}
	internal.LogInfo("cache cleared (%d entries)", cleared)
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "cache cleared", "cleared": cleared})
}

// CleanupCache removes expired entries only
func (s *Server) CleanupCache(w http.ResponseWriter, _ *http.Request) {
	removed := 0
	if s.cache != nil {
		removed = s.cache.Cleanup()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "expired entries removed", "removed": removed})
}
