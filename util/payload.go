package util

import "strings"

// Payload is the decoded form of an attachment's url/content string.
// Exactly one of DataURIPayload, RemoteURLPayload or UnknownPayload.
type Payload interface {
	payload()
}

// DataURIPayload carries the base64 body after the first comma of a data: URI.
type DataURIPayload struct {
	MediaType string
	Base64    string
}

// RemoteURLPayload is an absolute http(s) URL to download.
type RemoteURLPayload struct {
	URL string
}

// UnknownPayload is anything else; it is skipped.
type UnknownPayload struct {
	Raw string
}

func (DataURIPayload) payload()   {}
func (RemoteURLPayload) payload() {}
func (UnknownPayload) payload()   {}

// ParsePayload classifies an attachment payload string.
func ParsePayload(raw string) Payload {
	switch {
	case strings.HasPrefix(raw, "data:"):
		header, body, ok := strings.Cut(raw, ",")
		if !ok {
			return UnknownPayload{Raw: raw}
		}
		mediaType := strings.TrimPrefix(header, "data:")
		mediaType = strings.TrimSuffix(mediaType, ";base64")
		return DataURIPayload{MediaType: mediaType, Base64: body}
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return RemoteURLPayload{URL: raw}
	default:
		return UnknownPayload{Raw: raw}
	}
}

var textExtensions = map[string]bool{
	".html": true, ".htm": true, ".css": true, ".js": true, ".mjs": true,
	".json": true, ".md": true, ".txt": true, ".csv": true, ".tsv": true,
	".xml": true, ".svg": true, ".yaml": true, ".yml": true, ".py": true,
}

// IsTextFile reports whether a file name has an extension pushed as text.
func IsTextFile(name string) bool {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return false
	}
	return textExtensions[strings.ToLower(name[i:])]
}

// IsImageFile reports whether a file name looks like a raster image.
func IsImageFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".webp"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
