package textutil

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DisplayTitle derives a human-readable title from a remote video reference.
// The last path segment is used with its extension stripped and common
// separators replaced by spaces.
func DisplayTitle(remoteRef string) string {
	trimmed := strings.TrimSpace(remoteRef)
	if trimmed == "" {
		return "Untitled"
	}

	segment := trimmed
	if parsed, err := url.Parse(trimmed); err == nil && parsed.Path != "" {
		segment = parsed.Path
	}
	base := path.Base(strings.ReplaceAll(segment, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))

	replacer := strings.NewReplacer("_", " ", "-", " ", ".", " ", "+", " ", "%20", " ")
	cleaned := strings.Join(strings.Fields(replacer.Replace(base)), " ")
	if cleaned == "" {
		return "Untitled"
	}
	return cases.Title(language.Und).String(cleaned)
}
