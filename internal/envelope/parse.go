package envelope

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strconv"
	"strings"

	"github.com/shineum/maildispatch/internal/attachment"
	"github.com/shineum/maildispatch/internal/email"
)

var wordDecoder = new(mime.WordDecoder)

// Parse reads a raw RFC 5322 message back into an envelope. Text and HTML
// bodies, attachments, X- headers and the priority are recovered. Bcc
// recipients are not part of a rendered message and stay empty.
func Parse(raw []byte) (*Envelope, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	env := &Envelope{
		MessageID: msg.Header.Get("Message-Id"),
		Date:      msg.Header.Get("Date"),
		To:        parseAddressList(msg.Header.Get("To")),
		Cc:        parseAddressList(msg.Header.Get("Cc")),
		ReplyTo:   parseAddressList(msg.Header.Get("Reply-To")),
	}
	if from := parseAddressList(msg.Header.Get("From")); len(from) > 0 {
		env.From = from[0]
	}
	env.Subject, err = wordDecoder.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		env.Subject = msg.Header.Get("Subject")
	}
	if p := msg.Header.Get("X-Priority"); p != "" {
		n, _, _ := strings.Cut(p, " ")
		env.Priority, _ = strconv.Atoi(n)
	}
	for key, values := range msg.Header {
		if strings.HasPrefix(key, "X-") && key != "X-Priority" && len(values) > 0 {
			if env.Headers == nil {
				env.Headers = make(map[string]string)
			}
			env.Headers[key] = values[0]
		}
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read message body: %w", readErr)
		}
		env.Text = &email.Body{Content: string(body), Charset: email.DefaultCharset}
		return env, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseMultipart(msg.Body, boundary, env); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return env, nil
	}

	body, err := decodeTransfer(msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	setBody(env, mediaType, params["charset"], body)
	return env, nil
}

// parseMultipart processes a multipart body, collecting text/plain and
// text/html parts and attachments. Nested multiparts are walked.
func parseMultipart(body io.Reader, boundary string, env *Envelope) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			nested := params["boundary"]
			if nested == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := parseMultipart(part, nested, env); err != nil {
				slog.Warn("failed to parse nested multipart", "error", err)
			}
			continue
		}

		// multipart.Part decodes quoted-printable itself and drops the header.
		content, err := decodeTransfer(part.Header.Get("Content-Transfer-Encoding"), part)
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		disposition := part.Header.Get("Content-Disposition")
		if strings.HasPrefix(disposition, "attachment") || part.FileName() != "" || params["name"] != "" {
			env.Parts = append(env.Parts, attachment.Resolved{
				Name:        extractFilename(part, params),
				ContentType: mediaType,
				Content:     content,
			})
			continue
		}

		switch mediaType {
		case "text/plain", "text/html":
			setBody(env, mediaType, params["charset"], content)
		default:
			slog.Warn("unrecognized MIME part, skipping",
				"content_type", mediaType,
				"disposition", disposition,
			)
		}
	}

	return nil
}

func setBody(env *Envelope, mediaType, charset string, content []byte) {
	if charset == "" {
		charset = email.DefaultCharset
	}
	body := &email.Body{Content: string(content), Charset: charset}

	switch mediaType {
	case "text/html":
		if env.HTML == nil {
			env.HTML = body
		}
	default:
		if mediaType != "text/plain" {
			slog.Warn("unrecognized top-level content type", "content_type", mediaType)
		}
		if env.Text == nil {
			env.Text = body
		}
	}
}

// decodeTransfer reads r, undoing base64 or quoted-printable transfer
// encoding.
func decodeTransfer(encoding string, r io.Reader) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 content: %w", err)
			}
		}
		return decoded, nil
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}

// extractFilename checks Content-Disposition, then the Content-Type name
// parameter, then falls back to a name derived from the media type.
func extractFilename(part *multipart.Part, params map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	if name := params["name"]; name != "" {
		return name
	}
	if mediaType, _, err := mime.ParseMediaType(part.Header.Get("Content-Type")); err == nil {
		if _, sub, ok := strings.Cut(mediaType, "/"); ok {
			return "attachment." + sub
		}
	}
	return "attachment"
}

func parseAddressList(raw string) []email.Address {
	if raw == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		parts := strings.Split(raw, ",")
		out := make([]email.Address, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, email.Address{Address: trimmed})
			}
		}
		return out
	}

	out := make([]email.Address, 0, len(addresses))
	for _, a := range addresses {
		out = append(out, email.Address{Address: a.Address, Name: a.Name})
	}
	return out
}
