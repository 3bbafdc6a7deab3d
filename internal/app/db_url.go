package app

import (
	"net/url"
	"strings"
)

func dbNameFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return ""
	}
	return strings.TrimPrefix(parsed.Path, "/")
}
