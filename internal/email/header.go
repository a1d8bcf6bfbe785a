package email

import (
	"net/textproto"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// reservedHeaders are written from message fields and cannot be set as
// custom headers.
var reservedHeaders = map[string]bool{
	"From":         true,
	"Sender":       true,
	"To":           true,
	"Cc":           true,
	"Bcc":          true,
	"Reply-To":     true,
	"Return-Path":  true,
	"Subject":      true,
	"Date":         true,
	"Message-Id":   true,
	"Mime-Version": true,
	"X-Priority":   true,
}

// CustomHeaderAllowed reports whether key may be used as a custom header:
// a valid field name that does not collide with a header built from the
// message's own fields.
func CustomHeaderAllowed(key string) bool {
	if !httpguts.ValidHeaderFieldName(key) {
		return false
	}
	canonical := textproto.CanonicalMIMEHeaderKey(key)
	return !reservedHeaders[canonical] && !strings.HasPrefix(canonical, "Content-")
}
