package envelope

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"

	"github.com/shineum/maildispatch/internal/attachment"
	"github.com/shineum/maildispatch/internal/email"
)

// base64LineLength is the RFC 2045 line limit for encoded content.
const base64LineLength = 76

var headerSanitizer = strings.NewReplacer("\r", "", "\n", "")

var priorityLabels = map[int]string{
	1: "1 (Highest)",
	2: "2 (High)",
	3: "3 (Normal)",
	4: "4 (Low)",
	5: "5 (Lowest)",
}

// Bytes renders the envelope as an RFC 5322 message.
func (e *Envelope) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Render writes the envelope as an RFC 5322 message. Bcc recipients are not
// written. Path attachments are streamed from disk.
func (e *Envelope) Render(w io.Writer) error {
	header := make(textproto.MIMEHeader)
	if e.From.Address != "" {
		header.Set("From", e.From.String())
	}
	if len(e.To) > 0 {
		header.Set("To", addressList(e.To))
	}
	if len(e.Cc) > 0 {
		header.Set("Cc", addressList(e.Cc))
	}
	if len(e.ReplyTo) > 0 {
		header.Set("Reply-To", addressList(e.ReplyTo))
	}
	header.Set("Subject", mime.QEncoding.Encode("utf-8", e.Subject))
	header.Set("Date", e.date())
	if e.MessageID != "" {
		header.Set("Message-Id", e.MessageID)
	}
	if label, ok := priorityLabels[e.Priority]; ok {
		header.Set("X-Priority", label)
	}
	for k, v := range e.CustomHeaders() {
		header.Set(k, headerSanitizer.Replace(v))
	}
	header.Set("Mime-Version", "1.0")

	if len(e.Parts) == 0 {
		body := e.content()
		for k, v := range body.header {
			header[k] = v
		}
		if err := writeHeader(w, header); err != nil {
			return err
		}
		return body.write(w)
	}

	mixed := multipart.NewWriter(w)
	header.Set("Content-Type", mime.FormatMediaType("multipart/mixed", map[string]string{"boundary": mixed.Boundary()}))
	if err := writeHeader(w, header); err != nil {
		return err
	}

	if e.Text != nil || e.HTML != nil {
		body := e.content()
		part, err := mixed.CreatePart(body.header)
		if err != nil {
			return fmt.Errorf("failed to create body part: %w", err)
		}
		if err := body.write(part); err != nil {
			return err
		}
	}

	for _, p := range e.Parts {
		if err := writeAttachment(mixed, p); err != nil {
			return err
		}
	}

	return mixed.Close()
}

func (e *Envelope) date() string {
	if e.Date != "" {
		return e.Date
	}
	return time.Now().Format(time.RFC1123Z)
}

// bodyPart is a MIME header plus the function that writes its content.
type bodyPart struct {
	header textproto.MIMEHeader
	write  func(io.Writer) error
}

// content returns the body of the message: a single text part, a single
// HTML part, or both as multipart/alternative.
func (e *Envelope) content() bodyPart {
	switch {
	case e.Text != nil && e.HTML != nil:
		boundary := multipart.NewWriter(io.Discard).Boundary()
		header := make(textproto.MIMEHeader)
		header.Set("Content-Type", mime.FormatMediaType("multipart/alternative", map[string]string{"boundary": boundary}))
		return bodyPart{
			header: header,
			write: func(w io.Writer) error {
				alt := multipart.NewWriter(w)
				if err := alt.SetBoundary(boundary); err != nil {
					return fmt.Errorf("failed to set boundary: %w", err)
				}
				for _, b := range []bodyPart{textPart("text/plain", *e.Text), textPart("text/html", *e.HTML)} {
					part, err := alt.CreatePart(b.header)
					if err != nil {
						return fmt.Errorf("failed to create alternative part: %w", err)
					}
					if err := b.write(part); err != nil {
						return err
					}
				}
				return alt.Close()
			},
		}
	case e.HTML != nil:
		return textPart("text/html", *e.HTML)
	case e.Text != nil:
		return textPart("text/plain", *e.Text)
	default:
		return textPart("text/plain", email.Body{Charset: email.DefaultCharset})
	}
}

func textPart(mediaType string, body email.Body) bodyPart {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", mime.FormatMediaType(mediaType, map[string]string{"charset": body.Charset}))
	header.Set("Content-Transfer-Encoding", "quoted-printable")
	return bodyPart{
		header: header,
		write: func(w io.Writer) error {
			qp := quotedprintable.NewWriter(w)
			if _, err := io.WriteString(qp, body.Content); err != nil {
				return fmt.Errorf("failed to write body: %w", err)
			}
			return qp.Close()
		},
	}
}

func writeAttachment(mw *multipart.Writer, p attachment.Resolved) error {
	name, contentType := p.Name, p.ContentType

	var src io.Reader = bytes.NewReader(p.Content)
	if p.Path != "" {
		f, err := os.Open(p.Path)
		if err != nil {
			return fmt.Errorf("failed to open attachment: %w", err)
		}
		defer f.Close()
		src = f

		if name == "" {
			name = filepath.Base(p.Path)
		}
		if contentType == "" {
			mt, err := mimetype.DetectFile(p.Path)
			if err != nil {
				return fmt.Errorf("failed to detect attachment type: %w", err)
			}
			contentType = mt.String()
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", contentType)
	header.Set("Content-Transfer-Encoding", "base64")
	header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))

	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create attachment part: %w", err)
	}

	enc := base64.NewEncoder(base64.StdEncoding, &lineWriter{w: part})
	if _, err := io.Copy(enc, src); err != nil {
		return fmt.Errorf("failed to encode attachment %s: %w", name, err)
	}
	return enc.Close()
}

// lineWriter breaks its output into CRLF-terminated lines of
// base64LineLength bytes.
type lineWriter struct {
	w   io.Writer
	col int
}

func (l *lineWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		if l.col == base64LineLength {
			if _, err := io.WriteString(l.w, "\r\n"); err != nil {
				return written, err
			}
			l.col = 0
		}
		chunk := p[:min(base64LineLength-l.col, len(p))]
		n, err := l.w.Write(chunk)
		written += n
		l.col += n
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}

func writeHeader(w io.Writer, header textproto.MIMEHeader) error {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range header[k] {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func addressList(addrs []email.Address) string {
	return strings.Join(lo.Map(addrs, func(a email.Address, _ int) string {
		return a.String()
	}), ", ")
}
