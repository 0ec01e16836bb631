package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	scheme      = "secret://"
	aliasScheme = "sm://"
)

// Ref identifies one secret. References look like secret://name?version=3&project=p; sm:// is
// accepted as an alias.
type Ref struct {
	Secret  string
	Version string
	Project string
}

// ParseRef parses a secret reference.
func ParseRef(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(raw, aliasScheme); ok {
		raw = scheme + rest
	}
	if !strings.HasPrefix(raw, scheme) {
		return Ref{}, fmt.Errorf("secrets: %q is not a secret:// reference", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Ref{}, fmt.Errorf("secrets: parse %q: %w", raw, err)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return Ref{}, fmt.Errorf("secrets: %q names no secret", raw)
	}
	q := u.Query()
	return Ref{
		Secret:  name,
		Version: strings.TrimSpace(q.Get("version")),
		Project: strings.TrimSpace(q.Get("project")),
	}, nil
}

// Canonical is the reference without version or project, the form used for pins and the local file.
func (r Ref) Canonical() string {
	return scheme + r.Secret
}
