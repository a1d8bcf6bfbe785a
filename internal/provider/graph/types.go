// Package graph implements a Provider that sends emails via the Microsoft Graph API.
package graph

import (
	"encoding/base64"
	"slices"
	"strings"

	"github.com/shineum/maildispatch/internal/attachment"
	"github.com/shineum/maildispatch/internal/email"
	"github.com/shineum/maildispatch/internal/envelope"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject                string            `json:"subject"`
	Body                   messageBody       `json:"body"`
	From                   *recipient        `json:"from,omitempty"`
	ToRecipients           []recipient       `json:"toRecipients"`
	CcRecipients           []recipient       `json:"ccRecipients,omitempty"`
	BccRecipients          []recipient       `json:"bccRecipients,omitempty"`
	ReplyTo                []recipient       `json:"replyTo,omitempty"`
	Importance             string            `json:"importance,omitempty"`
	InternetMessageID      string            `json:"internetMessageId,omitempty"`
	InternetMessageHeaders []messageHeader   `json:"internetMessageHeaders,omitempty"`
	Attachments            []graphAttachment `json:"attachments,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request.
type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// messageHeader is a custom internet message header. Graph only accepts
// headers whose names start with "X-".
type messageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// graphAttachment represents a file attachment in a Graph API request.
type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts an envelope into a Graph API sendMail
// request body. Graph carries a single body, so HTML wins over text.
// parts must already be loaded into memory.
func buildSendMailRequest(env *envelope.Envelope, parts []attachment.Resolved) *sendMailRequest {
	body := messageBody{
		ContentType: "text",
		Content:     env.TextContent(),
	}
	if env.HTML != nil {
		body.ContentType = "html"
		body.Content = env.HTML.Content
	}

	msg := sendMailMessage{
		Subject:           env.Subject,
		Body:              body,
		ToRecipients:      recipients(env.To),
		CcRecipients:      recipients(env.Cc),
		BccRecipients:     recipients(env.Bcc),
		ReplyTo:           recipients(env.ReplyTo),
		Importance:        importance(env.Priority),
		InternetMessageID: env.MessageID,
	}
	if env.From.Address != "" {
		from := recipient{EmailAddress: emailAddress{Address: env.From.Address, Name: env.From.Name}}
		msg.From = &from
	}

	for k, v := range env.CustomHeaders() {
		if strings.HasPrefix(strings.ToLower(k), "x-") {
			msg.InternetMessageHeaders = append(msg.InternetMessageHeaders, messageHeader{Name: k, Value: v})
		}
	}
	slices.SortFunc(msg.InternetMessageHeaders, func(a, b messageHeader) int {
		return strings.Compare(a.Name, b.Name)
	})

	for _, att := range parts {
		msg.Attachments = append(msg.Attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Name,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	return &sendMailRequest{Message: msg, SaveToSentItems: true}
}

func recipients(addrs []email.Address) []recipient {
	out := make([]recipient, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, recipient{EmailAddress: emailAddress{Address: a.Address, Name: a.Name}})
	}
	return out
}

// importance maps the 1..5 priority scale onto Graph's three levels.
func importance(priority int) string {
	switch {
	case priority <= 0:
		return ""
	case priority <= 2:
		return "high"
	case priority == 3:
		return "normal"
	default:
		return "low"
	}
}
