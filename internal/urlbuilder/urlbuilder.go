package urlbuilder

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Builder constructs deep-link URLs for reminder records.
type Builder struct {
	baseURL string
}

func New(baseURL string) *Builder {
	return &Builder{baseURL: strings.TrimRight(baseURL, "/")}
}

// Remind returns the relative update path for a reminder, using the
// compact hex form of the id.
func (b *Builder) Remind(id uuid.UUID) string {
	return fmt.Sprintf("/remind/%s/", hexID(id))
}

// AbsoluteRemind returns the transport-ready absolute URL.
func (b *Builder) AbsoluteRemind(id uuid.UUID) string {
	u, err := url.Parse(b.baseURL)
	if err != nil || b.baseURL == "" {
		return b.Remind(id)
	}
	u.Path = strings.TrimRight(u.Path, "/") + b.Remind(id)
	return u.String()
}

func hexID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}
