package resolver

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"panplay/internal"
)

// ParseCredential builds a Credential from a raw Cookie header value such as
// "BDUSS=xxx; STOKEN=yyy". An empty cookie fails CredentialMissing.
func ParseCredential(cookie string) (*internal.Credential, error) {
	cookie = strings.TrimSpace(cookie)
	if cookie == "" {
		return nil, internal.NewCredentialMissingError()
	}

	values := parseCookieHeader(cookie)
	cred := &internal.Credential{
		Cookie: cookie,
		BDUSS:  values["BDUSS"],
		STOKEN: values["STOKEN"],
	}

	if cred.BDUSS == "" {
		internal.LogWarn("cookie has no BDUSS value; upstream calls will likely be rejected")
	}

	return cred, nil
}

// parseCookieHeader splits "k=v; k2=v2" into a map; items without '=' are skipped
func parseCookieHeader(cookie string) map[string]string {
	values := make(map[string]string)
	for _, item := range strings.Split(cookie, ";") {
		item = strings.TrimSpace(item)
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return values
}

// WithShareCookie returns the cookie header with BDCLND set to randsk
func WithShareCookie(cookie, randsk string) string {
	parts := make([]string, 0, 4)
	for _, item := range strings.Split(cookie, ";") {
		item = strings.TrimSpace(item)
		if item == "" || strings.HasPrefix(item, "BDCLND=") {
			continue
		}
		parts = append(parts, item)
	}
	parts = append(parts, "BDCLND="+randsk)
	return strings.Join(parts, "; ")
}

// LoadCookieFile reads a Netscape-format cookie file and returns a Cookie
// header value holding every unexpired cookie in it.
func LoadCookieFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open cookie file: %w", err)
	}
	defer file.Close()

	cookies, err := ReadNetscapeCookies(file)
	if err != nil {
		return "", err
	}

	now := time.Now()
	parts := make([]string, 0, len(cookies))
	for _, cookie := range cookies {
		if !cookie.Expires.IsZero() && cookie.Expires.Before(now) {
			internal.LogWarn("cookie %s expired at %v, skipping", cookie.Name, cookie.Expires)
			continue
		}
		parts = append(parts, cookie.Name+"="+cookie.Value)
	}

	if len(parts) == 0 {
		return "", internal.NewCredentialMissingError().WithSuggestion("The cookie file has no usable cookies; export it again")
	}

	return strings.Join(parts, "; "), nil
}

// ReadNetscapeCookies parses Netscape cookie lines, skipping comments and blanks.
// "#HttpOnly_" prefixed lines are cookies, not comments.
func ReadNetscapeCookies(r io.Reader) ([]*http.Cookie, error) {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	var cookies []*http.Cookie

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		httpOnly := false
		if strings.HasPrefix(line, "#HttpOnly_") {
			line = strings.TrimPrefix(line, "#HttpOnly_")
			httpOnly = true
		}

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cookie, err := parseNetscapeCookieLine(line)
		if err != nil {
			return nil, fmt.Errorf("invalid cookie format at line %d: %w", lineNum, err)
		}
		cookie.HttpOnly = httpOnly
		cookies = append(cookies, cookie)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading cookie file: %w", err)
	}

	return cookies, nil
}

// parseNetscapeCookieLine parses a single line from Netscape cookie format
// Format: domain	flag	path	secure	expiration	name	value
func parseNetscapeCookieLine(line string) (*http.Cookie, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 7 {
		return nil, fmt.Errorf("expected 7 fields, got %d", len(fields))
	}

	var expires time.Time
	if fields[4] != "0" {
		timestamp, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid expiration timestamp: %w", err)
		}
		expires = time.Unix(timestamp, 0)
	}

	return &http.Cookie{
		Domain:  fields[0],
		Path:    fields[2],
		Secure:  fields[3] == "TRUE",
		Expires: expires,
		Name:    fields[5],
		Value:   fields[6],
	}, nil
}
