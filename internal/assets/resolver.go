// Package assets resolves media references attached to chat content into
// fetchable URLs against the storefront backend.
package assets

import "strings"

// DefaultOwner is the upload namespace bare filenames resolve under.
const DefaultOwner = "cars"

// Resolver turns stored asset references into absolute URLs.
type Resolver struct {
	baseURL string
	owner   string
}

// NewResolver builds a resolver rooted at the backend base URL. An empty
// owner falls back to DefaultOwner.
func NewResolver(baseURL, owner string) *Resolver {
	if owner == "" {
		owner = DefaultOwner
	}
	return &Resolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		owner:   owner,
	}
}

// Resolve maps a stored reference to a fetchable URL:
//
//   - absolute http(s) URLs pass through untouched
//   - rooted paths ("/uploads/...") are joined onto the backend base URL
//   - bare filenames resolve under the per-owner upload directory
//   - empty input yields an empty URL for the caller's placeholder
func (r *Resolver) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if strings.HasPrefix(ref, "/") {
		return r.baseURL + ref
	}
	return r.baseURL + "/uploads/" + r.owner + "/" + ref
}
