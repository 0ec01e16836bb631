// Package pagination reads list paging parameters and encodes opaque page tokens.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 50
	DefaultMaxPageSize = 200
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid limit")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Options bound the page size a handler accepts. Zero values select the package defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) bounds() (def, limit int) {
	limit = o.MaxPageSize
	if limit <= 0 {
		limit = DefaultMaxPageSize
	}
	def = o.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	return min(def, limit), limit
}

// Params are the validated paging values of one request.
type Params struct {
	PageSize  int
	PageToken string
}

// FromRequest parses the query string of r.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil || r.URL == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads limit (alias pageSize) and pageToken. Limits above the maximum are clamped; the
// token must be one produced by EncodeTimeCursor.
func Parse(values url.Values, opts Options) (Params, error) {
	def, limit := opts.bounds()
	params := Params{PageSize: def}

	raw := strings.TrimSpace(values.Get("limit"))
	if raw == "" {
		raw = strings.TrimSpace(values.Get("pageSize"))
	}
	if raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			return Params{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidPageSize, raw)
		case n <= 0:
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		params.PageSize = min(n, limit)
	}

	if token := strings.TrimSpace(values.Get("pageToken")); token != "" {
		if _, _, _, err := DecodeTimeCursor(token); err != nil {
			return Params{}, err
		}
		params.PageToken = token
	}
	return params, nil
}
