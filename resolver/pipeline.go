package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"panplay/internal"
	"panplay/metrics"
	"panplay/utils"
)

const (
	// PlayURLTTL is how long a resolved play result is reused
	PlayURLTTL = 900 * time.Second
	// DefaultQuality is used when a request names none
	DefaultQuality = "AUTO_480"

	streamTypePrefix = "M3U8_"
)

// Request names the file to resolve and carries the caller's credential
type Request struct {
	Kind       internal.IdentifierKind
	Path       string
	FileID     int64
	ShareURL   string
	Pwd        string
	Quality    string
	Credential *internal.Credential
}

// Validate checks that the identifier matching Kind is present
func (r *Request) Validate() error {
	if r.Credential == nil || strings.TrimSpace(r.Credential.Cookie) == "" {
		return internal.NewCredentialMissingError()
	}

	switch r.Kind {
	case internal.KindPath:
		if strings.TrimSpace(r.Path) == "" {
			return internal.NewValidationError("path", "path cannot be empty")
		}
	case internal.KindFileID:
		if r.FileID <= 0 {
			return internal.NewValidationErrorWithValue("fs_id", "fs_id must be a positive integer", r.FileID)
		}
	case internal.KindShare:
		if strings.TrimSpace(r.ShareURL) == "" {
			return internal.NewValidationError("share_url", "share url cannot be empty")
		}
	default:
		return internal.NewValidationError("identifier", "provide a file path, fs_id or share url").
			WithSuggestion("Set one of file_path, fs_id or share_url")
	}
	return nil
}

// PipelineConfig wires a Pipeline to its collaborators
type PipelineConfig struct {
	Client         *utils.HTTPClient
	Cache          internal.Cache
	Tokens         *TokenRegistry
	Endpoints      utils.Endpoints
	DefaultQuality string
}

// Pipeline turns an identifier into a playable URL: descriptor lookup,
// cached result reuse, streaming retrieval, then the static download link.
type Pipeline struct {
	client         *utils.HTTPClient
	cache          internal.Cache
	tokens         *TokenRegistry
	directory      *DirectoryService
	shares         *ShareResolver
	pcsBase        string
	defaultQuality string
}

// NewPipeline creates a pipeline. A nil Tokens registry means streaming
// requests never carry an access token.
func NewPipeline(config PipelineConfig) *Pipeline {
	quality := config.DefaultQuality
	if quality == "" {
		quality = DefaultQuality
	}

	return &Pipeline{
		client:         config.Client,
		cache:          config.Cache,
		tokens:         config.Tokens,
		directory:      NewDirectoryService(config.Client, config.Cache, config.Endpoints.Pan),
		shares:         NewShareResolver(config.Client, config.Endpoints.Pan),
		pcsBase:        strings.TrimRight(config.Endpoints.PCS, "/"),
		defaultQuality: quality,
	}
}

// Directory returns the pipeline's directory service
func (p *Pipeline) Directory() *DirectoryService {
	return p.directory
}

// Shares returns the pipeline's share resolver
func (p *Pipeline) Shares() *ShareResolver {
	return p.shares
}

// PlayURLCacheKey returns the cache key of a resolved play result
func PlayURLCacheKey(cred *internal.Credential, fsID int64, quality string) string {
	return fmt.Sprintf("play_url:%s:%d:%s", cred.Account(), fsID, quality)
}

// PathPlayURLCacheKey returns the cache key of a play result resolved from a
// drive path. It lets a repeat path resolution skip the directory listing.
func PathPlayURLCacheKey(cred *internal.Credential, filePath, quality string) string {
	return fmt.Sprintf("play_url:%s:path:%s:%s", cred.Account(), filePath, quality)
}

// StreamType converts a quality name into the streaming endpoint's type tag
func StreamType(quality string) string {
	quality = strings.ToUpper(strings.TrimSpace(quality))
	if strings.HasPrefix(quality, streamTypePrefix) {
		return quality
	}
	return streamTypePrefix + quality
}

// Resolve runs a full resolution. It is not cancellable: once started it
// runs to completion, bounded by the per-call upstream timeout.
func (p *Pipeline) Resolve(ctx context.Context, req Request) (*internal.PlayResult, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	kind := string(req.Kind)

	result, err := p.resolve(ctx, req)

	elapsed := time.Since(start)
	metrics.ResolutionDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if err != nil {
		metrics.ResolutionsTotal.WithLabelValues(kind, outcomeOf(err)).Inc()
		internal.LogWarn("resolve %s failed after %.3fs: %v", kind, elapsed.Seconds(), err)
		return nil, err
	}

	metrics.ResolutionsTotal.WithLabelValues(kind, "success").Inc()
	internal.LogInfo("resolve %s took %.3fs (source: %s)", kind, elapsed.Seconds(), result.Source)
	return result, nil
}

func (p *Pipeline) resolve(ctx context.Context, req Request) (*internal.PlayResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cred := req.Credential
	quality := req.Quality
	if quality == "" {
		quality = p.defaultQuality
	}

	var fsID int64
	var pathKey string
	switch req.Kind {
	case internal.KindShare:
		selected, err := p.shares.ResolveShare(ctx, cred, req.ShareURL, req.Pwd)
		if err != nil {
			return nil, err
		}
		internal.LogWarn("shared file %s cannot be streamed directly", selected.Name)
		return nil, internal.NewUnsupportedOperationError(selected.Name).WithContext("fs_id", selected.FsID)

	case internal.KindPath:
		pathKey = PathPlayURLCacheKey(cred, strings.TrimSpace(req.Path), quality)
		if result := p.cached(pathKey); result != nil {
			return result, nil
		}
		desc, err := p.directory.FindByPath(ctx, cred, req.Path)
		if err != nil {
			return nil, err
		}
		fsID = desc.FsID

	case internal.KindFileID:
		fsID = req.FileID
	}

	key := PlayURLCacheKey(cred, fsID, quality)
	if result := p.cached(key); result != nil {
		return result, nil
	}

	desc, err := p.directory.FileMeta(ctx, cred, fsID)
	if err != nil {
		return nil, err
	}

	source := internal.SourceStreaming
	playURL := p.streamURL(ctx, cred, desc, quality)
	if playURL == "" {
		if desc.DLink == "" {
			return nil, internal.NewPlayURLUnavailableError().WithContext("fs_id", fsID)
		}
		internal.LogInfo("falling back to download link for %d", fsID)
		playURL = desc.DLink
		source = internal.SourceDownload
	}
	metrics.PlaySourceTotal.WithLabelValues(source).Inc()

	result := &internal.PlayResult{
		Parse:   0,
		PlayURL: "",
		URL:     playURL,
		Header: map[string]string{
			"User-Agent": utils.PlayerUserAgent,
			"Referer":    utils.DefaultReferer,
		},
		Quality: quality,
		Name:    desc.Name,
		Size:    desc.Size,
		Source:  source,
	}

	if p.cache != nil {
		p.cache.Set(key, result, PlayURLTTL)
		if pathKey != "" {
			p.cache.Set(pathKey, result, PlayURLTTL)
		}
	}
	return result.Clone(), nil
}

// cached returns a copy of the play result stored under key, or nil
func (p *Pipeline) cached(key string) *internal.PlayResult {
	if p.cache == nil {
		return nil
	}
	value, ok := p.cache.Get(key)
	if !ok {
		return nil
	}
	if result, ok := value.(*internal.PlayResult); ok {
		return result.Clone()
	}
	return nil
}

// streamResponse is the 200 body shape of the streaming endpoint
type streamResponse struct {
	URLs []struct {
		URL string `json:"url"`
	} `json:"urls"`
}

// streamURL requests a quality-tagged stream. Every failure is soft: it is
// logged and counted, and an empty string is returned.
func (p *Pipeline) streamURL(ctx context.Context, cred *internal.Credential, desc *internal.FileDescriptor, quality string) string {
	if desc.Path == "" {
		streamingFailed("no_path", "file %d has no path", desc.FsID)
		return ""
	}

	params := url.Values{}
	params.Set("method", "streaming")
	params.Set("path", desc.Path)
	params.Set("type", StreamType(quality))
	if token := p.accessToken(ctx, cred); token != "" {
		params.Set("access_token", token)
	}

	resp, err := p.client.GetNoRedirect(ctx, p.pcsBase+"/rest/2.0/pcs/file?"+params.Encode(), cookieHeader(cred))
	if err != nil {
		streamingFailed("transport", "streaming request failed: %v", err)
		return ""
	}
	defer utils.DrainAndClose(resp)

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		location, err := resp.Location()
		if err != nil {
			streamingFailed("no_location", "streaming redirect without location")
			return ""
		}
		internal.LogInfo("streaming url obtained via redirect (%s)", StreamType(quality))
		return location.String()

	case http.StatusOK:
		var body streamResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			streamingFailed("decode", "streaming body undecodable: %v", err)
			return ""
		}
		if len(body.URLs) == 0 || body.URLs[0].URL == "" {
			streamingFailed("empty", "streaming response has no urls")
			return ""
		}
		internal.LogInfo("streaming url obtained from body (%s)", StreamType(quality))
		return body.URLs[0].URL
	}

	streamingFailed("status", "streaming returned status %d", resp.StatusCode)
	return ""
}

// accessToken returns a valid token for cred, or "" when none can be had.
// Token problems never fail a resolution.
func (p *Pipeline) accessToken(ctx context.Context, cred *internal.Credential) string {
	if p.tokens == nil {
		return ""
	}
	provider := p.tokens.Provider(cred)
	if provider == nil {
		internal.LogDebug("no refresh credential, streaming without access token")
		return ""
	}

	token, err := provider.GetValidToken(ctx)
	if err != nil {
		if perr, ok := internal.AsPanError(err); ok && perr.IsFatal() {
			internal.LogError("continuing without access token: %v", err)
		} else {
			internal.LogWarn("continuing without access token: %v", err)
		}
		return ""
	}
	return token
}

func streamingFailed(reason, format string, args ...interface{}) {
	metrics.StreamingFailuresTotal.WithLabelValues(reason).Inc()
	internal.LogWarn("streaming unavailable: "+format, args...)
}

func outcomeOf(err error) string {
	if perr, ok := internal.AsPanError(err); ok {
		return perr.Type.String()
	}
	return "InvalidInput"
}
