package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"panplay/internal"
	"panplay/utils"
)

// videoExtensions are the lower-cased extensions treated as playable
var videoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".flv":  true,
	".wmv":  true,
	".rmvb": true,
	".m3u8": true,
	".ts":   true,
}

// IsVideoFile reports whether name has a recognized video extension
func IsVideoFile(name string) bool {
	return videoExtensions[strings.ToLower(path.Ext(name))]
}

// verifyResponse is the share verification envelope. shareid arrives as a
// number or a string depending on the upstream version.
type verifyResponse struct {
	Errno   int         `json:"errno"`
	Randsk  string      `json:"randsk"`
	ShareID json.Number `json:"shareid"`
}

// ShareResolver verifies share links and lists their contents
type ShareResolver struct {
	client  *utils.HTTPClient
	baseURL string
	now     func() time.Time
}

// NewShareResolver creates a share resolver against baseURL
func NewShareResolver(client *utils.HTTPClient, baseURL string) *ShareResolver {
	return &ShareResolver{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// Parse extracts the share code and extraction code from a share URL
func (s *ShareResolver) Parse(shareURL, pwd string) (string, string, error) {
	return utils.ParseShareURL(shareURL, pwd)
}

// Verify checks the extraction code and returns the upstream share session
func (s *ShareResolver) Verify(ctx context.Context, cred *internal.Credential, shareCode, pwd string) (*internal.ShareSession, error) {
	params := url.Values{}
	params.Set("surl", shareCode)
	params.Set("pwd", pwd)
	params.Set("t", strconv.FormatInt(s.now().UnixMilli(), 10))
	params.Set("web", "1")

	var resp verifyResponse
	if err := s.client.PostJSON(ctx, s.baseURL+"/share/verify?"+params.Encode(), nil, cookieHeader(cred), &resp); err != nil {
		internal.LogError("share verification for %s failed: %v", shareCode, err)
		return nil, internal.NewShareVerificationError(-1).WithCause(err)
	}

	if resp.Errno != 0 {
		internal.LogError("share verification for %s rejected: errno=%d", shareCode, resp.Errno)
		return nil, internal.NewShareVerificationError(resp.Errno)
	}

	internal.LogInfo("share %s verified", shareCode)
	return &internal.ShareSession{
		ShareCode: shareCode,
		Pwd:       pwd,
		Randsk:    resp.Randsk,
		ShareID:   resp.ShareID.String(),
	}, nil
}

// List re-verifies the share and lists dir inside it. The upstream session
// is not assumed to survive between calls, so every listing verifies first.
// A non-zero errno yields an empty slice and an error.
func (s *ShareResolver) List(ctx context.Context, cred *internal.Credential, session *internal.ShareSession, dir string) ([]internal.FileDescriptor, error) {
	if dir == "" {
		dir = "/"
	}

	fresh, err := s.Verify(ctx, cred, session.ShareCode, session.Pwd)
	if err != nil {
		return []internal.FileDescriptor{}, err
	}

	params := url.Values{}
	params.Set("shareid", fresh.ShareID)
	params.Set("dir", dir)
	params.Set("web", "1")
	params.Set("page", "1")
	params.Set("num", "100")

	headers := map[string]string{"Cookie": WithShareCookie(cred.Cookie, fresh.Randsk)}

	var resp listResponse
	if err := s.client.GetJSON(ctx, s.baseURL+"/share/list?"+params.Encode(), headers, &resp); err != nil {
		internal.LogError("share list for %s failed: %v", session.ShareCode, err)
		return []internal.FileDescriptor{}, internal.NewUpstreamError(internal.StageShare, "share listing", err)
	}

	if resp.Errno != 0 {
		internal.LogError("share list for %s failed: errno=%d", session.ShareCode, resp.Errno)
		return []internal.FileDescriptor{}, internal.MapErrno(internal.StageShare, resp.Errno)
	}

	files := resp.descriptors()
	internal.LogInfo("share %s lists %d entries", session.ShareCode, len(files))
	return files, nil
}

// SelectPlayable picks the first non-directory entry with a video extension,
// or the first entry when none qualifies. It returns nil for an empty listing.
func SelectPlayable(files []internal.FileDescriptor) *internal.FileDescriptor {
	if len(files) == 0 {
		return nil
	}
	for i := range files {
		if !files[i].IsDir && IsVideoFile(files[i].Name) {
			return &files[i]
		}
	}
	return &files[0]
}

// ResolveShare runs parse, verify, list and select for a share link and
// returns the selected file.
func (s *ShareResolver) ResolveShare(ctx context.Context, cred *internal.Credential, shareURL, pwd string) (*internal.FileDescriptor, error) {
	code, extraction, err := s.Parse(shareURL, pwd)
	if err != nil {
		return nil, err
	}

	session, err := s.Verify(ctx, cred, code, extraction)
	if err != nil {
		return nil, err
	}

	files, err := s.List(ctx, cred, session, "/")
	if err != nil {
		return nil, err
	}

	selected := SelectPlayable(files)
	if selected == nil {
		return nil, internal.NewNotFoundError(internal.StageShare, fmt.Sprintf("playable file in share %s", code))
	}
	return selected, nil
}
