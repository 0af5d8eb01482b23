package crawler

import (
	"net/url"
	"regexp"
	"strings"
)

// maxFilenameLength caps encoded filenames so they stay portable across
// filesystems.
const maxFilenameLength = 200

// Suffixes appended to artifact basenames by downstream processing. They are
// stripped before decoding a filename back into a URL.
const (
	suffixSummarizedQACSV = "_summarized_qa_csv"
	suffixSummarized      = "_summarized"
	suffixQAJSON          = "_qa_json"
)

// decodableURL matches the host/path shape a decoded filename must have to
// count as a URL. The first label may not start with a hyphen.
var decodableURL = regexp.MustCompile(`^(www\.)?[A-Za-z0-9][A-Za-z0-9-]*(\.[A-Za-z0-9-]+)*\.[A-Za-z]{2,}(/.*)?$`)

// URLToFilename derives the artifact basename (no extension) for a URL.
// Dots in the host become underscores; the path loses its leading slash and
// then maps every slash and dot to an underscore, so empty segments leave
// doubled underscores. The result is truncated to maxFilenameLength. Query
// and fragment never participate.
func URLToFilename(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return sanitizeSegment(rawURL)
	}

	name := strings.ReplaceAll(parsed.Host, ".", "_")
	if p := parsed.Path; p != "" && p != "/" {
		p = strings.TrimPrefix(p, "/")
		p = strings.ReplaceAll(p, "/", "_")
		p = strings.ReplaceAll(p, ".", "_")
		name = name + "_" + p
	}
	if len(name) > maxFilenameLength {
		name = name[:maxFilenameLength]
	}
	return name
}

// FilenameToURL attempts to invert URLToFilename. The encoding is lossy
// (underscores in real URLs, truncation), so this is only a best effort used
// when a repository predates the manifest sidecar. Returns false when the
// decoded candidate does not look like a URL.
func FilenameToURL(filename string) (string, bool) {
	base := filename
	if idx := strings.LastIndex(base, "."); idx >= 0 {
		base = base[:idx]
	}

	switch {
	case strings.Contains(base, suffixSummarizedQACSV):
		base = strings.ReplaceAll(base, suffixSummarizedQACSV, "")
	case strings.Contains(base, suffixSummarized):
		base = strings.ReplaceAll(base, suffixSummarized, "")
	case strings.Contains(base, suffixQAJSON):
		base = strings.ReplaceAll(base, suffixQAJSON, "")
	}

	candidate := strings.ReplaceAll(base, "_", ".")
	if !decodableURL.MatchString(candidate) {
		return "", false
	}
	return candidate, true
}

func sanitizeSegment(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ".", "_")
	if len(s) > maxFilenameLength {
		s = s[:maxFilenameLength]
	}
	return s
}
