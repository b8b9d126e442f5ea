package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"panplay/internal"
)

// ShareLink contains parsed information from a share URL
type ShareLink struct {
	OriginalURL string
	Domain      string
	ShareCode   string
	Pwd         string
}

// URLValidator validates and parses share links
type URLValidator struct {
	allowedDomains []string
	codePattern    *regexp.Regexp
}

// NewURLValidator creates a new URL validator
func NewURLValidator() *URLValidator {
	return &URLValidator{
		allowedDomains: []string{
			"pan.baidu.com",
			"www.pan.baidu.com",
			"yun.baidu.com",
			"www.yun.baidu.com",
		},
		codePattern: regexp.MustCompile(`^[a-zA-Z0-9_-]+$`),
	}
}

// ValidateURL checks that the URL is http(s) and from an allowed domain
func (v *URLValidator) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return internal.NewValidationError("share_url", "URL cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return internal.NewValidationError("share_url", fmt.Sprintf("invalid URL format: %v", err))
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return internal.NewValidationError("share_url", "URL must use http or https protocol")
	}

	host := strings.ToLower(parsedURL.Hostname())
	for _, allowedDomain := range v.allowedDomains {
		if host == allowedDomain {
			return nil
		}
	}

	return internal.NewInvalidURLError(fmt.Sprintf("share links must be on pan.baidu.com, got: %s", host))
}

// Parse extracts the share code and extraction code from a share URL.
// An explicitly supplied pwd wins over one carried in the query string.
func (v *URLValidator) Parse(rawURL, pwd string) (*ShareLink, error) {
	if err := v.ValidateURL(rawURL); err != nil {
		return nil, err
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, internal.NewValidationError("share_url", fmt.Sprintf("failed to parse URL: %v", err))
	}

	link := &ShareLink{
		OriginalURL: rawURL,
		Domain:      strings.ToLower(parsedURL.Hostname()),
		Pwd:         pwd,
	}

	if _, rest, ok := strings.Cut(parsedURL.Path, "/s/"); ok {
		link.ShareCode = strings.Trim(rest, "/")
	}

	query := parsedURL.Query()
	if link.ShareCode == "" {
		link.ShareCode = query.Get("surl")
	}
	if link.Pwd == "" {
		link.Pwd = query.Get("pwd")
	}

	if link.ShareCode == "" || !v.codePattern.MatchString(link.ShareCode) {
		return nil, internal.NewInvalidURLError("unable to extract share code from URL")
	}

	return link, nil
}

// ParseShareURL is the package-level form of URLValidator.Parse
func ParseShareURL(rawURL, pwd string) (code, extraction string, err error) {
	link, err := NewURLValidator().Parse(rawURL, pwd)
	if err != nil {
		return "", "", err
	}
	internal.LogInfo("parsed share link: %s", link)
	return link.ShareCode, link.Pwd, nil
}

// String returns a representation of the link with the extraction code masked
func (l *ShareLink) String() string {
	masked := ""
	if l.Pwd != "" {
		masked = "****"
	}
	return fmt.Sprintf("ShareLink{Domain: %s, ShareCode: %s, Pwd: %s}", l.Domain, l.ShareCode, masked)
}
