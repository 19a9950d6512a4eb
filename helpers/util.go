package helpers

import (
	"net/url"
	"strings"
)

// ExpandURL fills the {slug} placeholder of a URL template
func ExpandURL(template, slug string) string {
	return strings.ReplaceAll(template, "{slug}", url.PathEscape(slug))
}

// CollapseSpaces trims s and folds every whitespace run into one space
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
