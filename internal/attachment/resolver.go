// Package attachment resolves message attachments to concrete content at
// send time.
package attachment

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/shineum/maildispatch/internal/email"
)

// Fetcher is the remote fetch capability used for URL attachments.
type Fetcher interface {
	// Exists reports whether the resource can be reached.
	Exists(ctx context.Context, url string) bool
	// Header returns a single response header of the resource.
	Header(ctx context.Context, url, name string) (string, error)
	// Body returns the raw bytes of the resource.
	Body(ctx context.Context, url string) ([]byte, error)
}

// NotFoundError is returned when a path or URL attachment cannot be reached.
type NotFoundError struct {
	Ref string
	Err error
}

func (e *NotFoundError) Error() string {
	return "Attachment not found: " + e.Ref
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// Resolved is an attachment ready for a transport. Path is set for local
// files, which are left on disk for the transport to stream; otherwise
// Content holds the bytes.
type Resolved struct {
	Name        string
	ContentType string
	Content     []byte
	Path        string
}

// Resolver turns attachment references into Resolved attachments.
type Resolver struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewResolver creates a Resolver that fetches URL attachments with f.
func NewResolver(f Fetcher) *Resolver {
	return &Resolver{fetcher: f, logger: slog.Default()}
}

// Resolve resolves every attachment in order. Any failure aborts the whole
// list; partial results are never returned.
func (r *Resolver) Resolve(ctx context.Context, attachments []email.Attachment) ([]Resolved, error) {
	out := make([]Resolved, 0, len(attachments))
	unnamed := 0

	for _, a := range attachments {
		switch a.Kind() {
		case email.KindInline:
			out = append(out, Resolved{
				Name:        a.Name(),
				ContentType: a.ContentType(),
				Content:     a.Body(),
			})

		case email.KindPath:
			info, err := os.Stat(a.Path())
			if err != nil || info.IsDir() {
				return nil, &NotFoundError{Ref: a.Path(), Err: err}
			}
			out = append(out, Resolved{Name: a.Name(), Path: a.Path()})

		case email.KindURL:
			res, err := r.resolveURL(ctx, a)
			if err != nil {
				return nil, err
			}
			if res.Name == "" {
				unnamed++
				res.Name = fmt.Sprintf("file_%d.%s", unnamed, extension(res.ContentType))
			}
			out = append(out, res)

		default:
			return nil, fmt.Errorf("unknown attachment kind %v", a.Kind())
		}
	}

	return out, nil
}

func (r *Resolver) resolveURL(ctx context.Context, a email.Attachment) (Resolved, error) {
	url := a.URL()
	if r.fetcher == nil || !r.fetcher.Exists(ctx, url) {
		return Resolved{}, &NotFoundError{Ref: url}
	}

	header, err := r.fetcher.Header(ctx, url, "Content-Type")
	if err != nil {
		return Resolved{}, &NotFoundError{Ref: url, Err: err}
	}

	body, err := r.fetcher.Body(ctx, url)
	if err != nil {
		return Resolved{}, &NotFoundError{Ref: url, Err: err}
	}

	contentType := mediaType(header)
	if contentType == "" {
		contentType = mediaType(mimetype.Detect(body).String())
		r.logger.Debug("content type detected from body", "url", url, "content_type", contentType)
	}

	return Resolved{
		Name:        a.Name(),
		ContentType: contentType,
		Content:     body,
	}, nil
}

// mediaType strips parameters such as "; charset=utf-8".
func mediaType(header string) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil {
		return mt
	}
	mt, _, _ := strings.Cut(header, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// extension is the final segment of a media type: "image/png" gives "png".
func extension(contentType string) string {
	if i := strings.LastIndex(contentType, "/"); i >= 0 {
		return contentType[i+1:]
	}
	return contentType
}
