package crawler

import (
	"net/url"
	"strings"
)

// skippedExtensions are link targets that are never enqueued. PDFs are not
// listed because they are fetched and stored as binary artifacts.
var skippedExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".svg": {}, ".ico": {},
	".webp": {}, ".bmp": {}, ".tiff": {},
	".css": {}, ".js": {}, ".mjs": {}, ".map": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {}, ".flv": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".rar": {}, ".7z": {},
	".exe": {}, ".dmg": {}, ".iso": {}, ".bin": {},
	".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
	".xml": {}, ".rss": {}, ".atom": {},
}

// NormalizeURL brings a URL into canonical form: a missing scheme defaults
// to http, a trailing slash on a non-root path is dropped, and query and
// fragment are preserved as given.
func NormalizeURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if parsed.Scheme == "" {
		parsed, err = url.Parse("http://" + rawURL)
		if err != nil {
			return rawURL
		}
	}

	path := parsed.EscapedPath()
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}

	normalized := parsed.Scheme + "://" + parsed.Host + path
	if parsed.RawQuery != "" {
		normalized += "?" + parsed.RawQuery
	}
	if parsed.Fragment != "" {
		normalized += "#" + parsed.Fragment
	}
	return normalized
}

// Host returns the lowercased host portion of a URL, or "" when it cannot
// be parsed.
func Host(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}

// ShouldCrawl reports whether a discovered link belongs in the frontier:
// http or https, same host as the seed, and not a skipped asset type.
func ShouldCrawl(rawURL, seedHost string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if !strings.EqualFold(parsed.Host, seedHost) {
		return false
	}
	ext := strings.ToLower(pathExtension(parsed.EscapedPath()))
	if _, skip := skippedExtensions[ext]; skip {
		return false
	}
	return true
}

// IsPDF reports whether the URL path points at a PDF document.
func IsPDF(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return strings.HasSuffix(strings.ToLower(rawURL), ".pdf")
	}
	return strings.EqualFold(pathExtension(parsed.EscapedPath()), ".pdf")
}

func pathExtension(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		path = path[idx+1:]
	}
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		return path[idx:]
	}
	return ""
}
