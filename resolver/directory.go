package resolver

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"panplay/internal"
	"panplay/utils"
)

const (
	// FileListTTL is how long a successful directory listing is reused
	FileListTTL = 300 * time.Second
	// DefaultPageSize is the listing page size used when none is given
	DefaultPageSize = 100
	// maxLookupPages bounds the pages scanned when looking a name up in a directory
	maxLookupPages = 20
)

// rawFile is a file record as the upstream encodes it
type rawFile struct {
	FsID     int64  `json:"fs_id"`
	Path     string `json:"path"`
	Filename string `json:"server_filename"`
	Size     int64  `json:"size"`
	IsDir    int    `json:"isdir"`
	DLink    string `json:"dlink"`
	MD5      string `json:"md5"`
}

func (r rawFile) descriptor() internal.FileDescriptor {
	return internal.FileDescriptor{
		FsID:  r.FsID,
		Path:  r.Path,
		Name:  r.Filename,
		Size:  r.Size,
		IsDir: r.IsDir != 0,
		DLink: r.DLink,
		MD5:   r.MD5,
	}
}

// listResponse is the envelope shared by list, filemetas, search and share/list
type listResponse struct {
	Errno  int       `json:"errno"`
	ErrMsg string    `json:"errmsg"`
	List   []rawFile `json:"list"`
}

func (r *listResponse) descriptors() []internal.FileDescriptor {
	files := make([]internal.FileDescriptor, 0, len(r.List))
	for _, f := range r.List {
		files = append(files, f.descriptor())
	}
	return files
}

// DirectoryService lists, looks up and searches files in the caller's drive
type DirectoryService struct {
	client  *utils.HTTPClient
	cache   internal.Cache
	baseURL string
}

// NewDirectoryService creates a directory service. cache may be nil.
func NewDirectoryService(client *utils.HTTPClient, cache internal.Cache, baseURL string) *DirectoryService {
	return &DirectoryService{
		client:  client,
		cache:   cache,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// FileListCacheKey returns the cache key of one listing page
func FileListCacheKey(cred *internal.Credential, dir string, page, size int) string {
	return fmt.Sprintf("file_list:%s:%s:%d:%d", cred.Account(), dir, page, size)
}

// ListDir returns one page of a directory. Successful pages are cached for FileListTTL.
func (d *DirectoryService) ListDir(ctx context.Context, cred *internal.Credential, dir string, page, size int) ([]internal.FileDescriptor, error) {
	if dir == "" {
		dir = "/"
	}
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}

	key := FileListCacheKey(cred, dir, page, size)
	if d.cache != nil {
		if cached, ok := d.cache.Get(key); ok {
			if files, ok := cached.([]internal.FileDescriptor); ok {
				return cloneDescriptors(files), nil
			}
		}
	}

	params := url.Values{}
	params.Set("dir", dir)
	params.Set("page", strconv.Itoa(page))
	params.Set("num", strconv.Itoa(size))
	params.Set("order", "name")
	params.Set("desc", "0")
	params.Set("web", "1")
	params.Set("folder", "0")

	var resp listResponse
	if err := d.client.GetJSON(ctx, d.baseURL+"/api/list?"+params.Encode(), cookieHeader(cred), &resp); err != nil {
		internal.LogError("list %s failed: %v", dir, err)
		return nil, internal.NewUpstreamError(internal.StageDirectory, "directory listing", err)
	}

	if perr := internal.MapErrno(internal.StageDirectory, resp.Errno); perr != nil {
		internal.LogError("list %s failed: errno=%d", dir, resp.Errno)
		return nil, perr.WithContext("dir", dir)
	}

	files := resp.descriptors()
	internal.LogInfo("listed %s: %d entries", dir, len(files))

	if d.cache != nil {
		d.cache.Set(key, files, FileListTTL)
	}
	return cloneDescriptors(files), nil
}

// FindByPath looks up a file by absolute path by listing its parent directory
// and matching the name exactly.
func (d *DirectoryService) FindByPath(ctx context.Context, cred *internal.Credential, filePath string) (*internal.FileDescriptor, error) {
	dir, name := splitPath(filePath)
	if name == "" {
		return nil, internal.NewValidationError("path", "path must name a file")
	}

	for page := 1; page <= maxLookupPages; page++ {
		files, err := d.ListDir(ctx, cred, dir, page, DefaultPageSize)
		if err != nil {
			return nil, err
		}

		for i := range files {
			if files[i].Name == name {
				return &files[i], nil
			}
		}

		if len(files) < DefaultPageSize {
			break
		}
	}

	return nil, internal.NewNotFoundError(internal.StageDirectory, fmt.Sprintf("file %q", name))
}

// FileMeta returns metadata for one file id, including its static download link
func (d *DirectoryService) FileMeta(ctx context.Context, cred *internal.Credential, fsID int64) (*internal.FileDescriptor, error) {
	params := url.Values{}
	params.Set("fsids", fmt.Sprintf("[%d]", fsID))
	params.Set("thumb", "1")
	params.Set("extra", "1")
	params.Set("dlink", "1")
	params.Set("web", "1")

	var resp listResponse
	if err := d.client.GetJSON(ctx, d.baseURL+"/api/filemetas?"+params.Encode(), cookieHeader(cred), &resp); err != nil {
		internal.LogError("filemetas %d failed: %v", fsID, err)
		return nil, internal.NewUpstreamError(internal.StageMetadata, "file metadata", err)
	}

	if perr := internal.MapErrno(internal.StageMetadata, resp.Errno); perr != nil {
		return nil, perr.WithContext("fs_id", fsID)
	}

	if len(resp.List) == 0 {
		return nil, internal.NewNotFoundError(internal.StageMetadata, fmt.Sprintf("file %d", fsID))
	}

	desc := resp.List[0].descriptor()
	return &desc, nil
}

// Search returns files whose name matches keyword
func (d *DirectoryService) Search(ctx context.Context, cred *internal.Credential, keyword string, page int) ([]internal.FileDescriptor, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, internal.NewValidationError("keyword", "keyword cannot be empty")
	}
	if page < 1 {
		page = 1
	}

	params := url.Values{}
	params.Set("key", keyword)
	params.Set("page", strconv.Itoa(page))
	params.Set("num", strconv.Itoa(DefaultPageSize))
	params.Set("web", "1")

	var resp listResponse
	if err := d.client.GetJSON(ctx, d.baseURL+"/api/search?"+params.Encode(), cookieHeader(cred), &resp); err != nil {
		internal.LogError("search failed: %v", err)
		return nil, internal.NewUpstreamError(internal.StageDirectory, "search", err)
	}

	if perr := internal.MapErrno(internal.StageDirectory, resp.Errno); perr != nil {
		return nil, perr
	}

	return resp.descriptors(), nil
}

// splitPath splits an absolute file path into its parent directory and leaf name
func splitPath(filePath string) (dir, name string) {
	cleaned := path.Clean("/" + strings.TrimSpace(filePath))
	if cleaned == "/" {
		return "/", ""
	}
	return path.Dir(cleaned), path.Base(cleaned)
}

func cookieHeader(cred *internal.Credential) map[string]string {
	return map[string]string{"Cookie": cred.Cookie}
}

func cloneDescriptors(files []internal.FileDescriptor) []internal.FileDescriptor {
	out := make([]internal.FileDescriptor, len(files))
	copy(out, files)
	return out
}
