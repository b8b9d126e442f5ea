package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// IdentifierKind selects how a resolution request names its target file
type IdentifierKind string

const (
	KindPath   IdentifierKind = "path"
	KindFileID IdentifierKind = "file_id"
	KindShare  IdentifierKind = "share"
)

// Credential is the caller's account session plus the optional refresh
// material used to obtain an access token. It is not mutated once a
// resolution starts.
type Credential struct {
	Cookie       string
	BDUSS        string
	STOKEN       string
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// HasRefresh reports whether the credential can be used for token refresh
func (c *Credential) HasRefresh() bool {
	return c.RefreshToken != "" && c.ClientID != ""
}

// Account returns a short stable fingerprint of the session, used to scope
// cache keys so one account never sees another's entries.
func (c *Credential) Account() string {
	key := c.BDUSS
	if key == "" {
		key = c.Cookie
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// AccessToken is a short-lived bearer token and the instant it stops being used
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// FileDescriptor describes one file or directory in the drive
type FileDescriptor struct {
	FsID  int64  `json:"fs_id"`
	Path  string `json:"path"`
	Name  string `json:"server_filename"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"isdir"`
	DLink string `json:"dlink,omitempty"`
	MD5   string `json:"md5,omitempty"`
}

// ShareSession is proof of a successful share verification
type ShareSession struct {
	ShareCode string
	Pwd       string
	Randsk    string
	ShareID   string
}

// Play result sources
const (
	SourceStreaming = "streaming"
	SourceDownload  = "download"
)

// PlayResult is the terminal output of a resolution
type PlayResult struct {
	Parse   int               `json:"parse"`
	PlayURL string            `json:"playUrl"`
	URL     string            `json:"url"`
	Header  map[string]string `json:"header"`
	Quality string            `json:"quality,omitempty"`
	Name    string            `json:"name,omitempty"`
	Size    int64             `json:"size,omitempty"`
	Source  string            `json:"source"`
}

// Clone returns a deep copy so cached results are never shared mutably
func (r *PlayResult) Clone() *PlayResult {
	out := *r
	out.Header = make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		out.Header[k] = v
	}
	return &out
}
