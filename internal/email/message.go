// Package email defines the provider-agnostic message model: participants,
// bodies, attachments and the fluent builder used to assemble them before a
// message is bound to any delivery backend.
package email

import (
	"maps"
	"slices"
)

// DefaultCharset is used for bodies set without an explicit charset.
const DefaultCharset = "utf-8"

// Priority bounds. 1 is the highest priority, 5 the lowest.
const (
	HighestPriority = 1
	LowestPriority  = 5
)

// Body is a text or HTML body with its charset.
type Body struct {
	Content string `json:"text" yaml:"text"`
	Charset string `json:"charset" yaml:"charset"`
}

// Message accumulates everything needed to send one email. It is built by a
// single owner through its setters and handed read-only to the dispatcher.
type Message struct {
	from        *Address
	to          []Address
	cc          []Address
	bcc         []Address
	replyTo     *Address
	returnPath  string
	subject     string
	text        *Body
	html        *Body
	date        string
	priority    int
	headers     map[string]string
	attachments []Attachment
}

// NewMessage returns an empty message with the lowest priority.
func NewMessage() *Message {
	return &Message{priority: LowestPriority}
}

// SetFrom sets the sender.
func (m *Message) SetFrom(address, name string) *Message {
	m.from = &Address{Address: address, Name: name}
	return m
}

// AddTo appends a primary recipient.
func (m *Message) AddTo(address, name string) *Message {
	return m.Add(FieldTo, Address{Address: address, Name: name})
}

// AddCc appends a carbon-copy recipient.
func (m *Message) AddCc(address, name string) *Message {
	return m.Add(FieldCc, Address{Address: address, Name: name})
}

// AddBcc appends a blind carbon-copy recipient.
func (m *Message) AddBcc(address, name string) *Message {
	return m.Add(FieldBcc, Address{Address: address, Name: name})
}

// SetReplyTo sets the reply-to address, replacing any previous one.
func (m *Message) SetReplyTo(address, name string) *Message {
	return m.Add(FieldReplyTo, Address{Address: address, Name: name})
}

// Add routes addresses to the collection selected by field. To, Cc and Bcc
// append in order; ReplyTo keeps only the last address given.
func (m *Message) Add(field Field, addrs ...Address) *Message {
	for _, a := range addrs {
		switch field {
		case FieldTo:
			m.to = append(m.to, a)
		case FieldCc:
			m.cc = append(m.cc, a)
		case FieldBcc:
			m.bcc = append(m.bcc, a)
		case FieldReplyTo:
			replyTo := a
			m.replyTo = &replyTo
		default:
			panic("email: unknown address field " + field.String())
		}
	}
	return m
}

// AddMap routes an address-to-name map to the collection selected by field.
// Entries are added in address order so the result does not depend on map
// iteration.
func (m *Message) AddMap(field Field, addrs map[string]string) *Message {
	for _, address := range slices.Sorted(maps.Keys(addrs)) {
		m.Add(field, Address{Address: address, Name: addrs[address]})
	}
	return m
}

// SetReturnPath sets the bounce address used by transports that support it.
func (m *Message) SetReturnPath(address string) *Message {
	m.returnPath = address
	return m
}

// SetSubject sets the subject line.
func (m *Message) SetSubject(subject string) *Message {
	m.subject = subject
	return m
}

// SetText sets the plain-text body. An empty charset means DefaultCharset.
func (m *Message) SetText(body, charset string) *Message {
	m.text = &Body{Content: body, Charset: charsetOrDefault(charset)}
	return m
}

// SetHTML sets the HTML body. An empty charset means DefaultCharset.
func (m *Message) SetHTML(body, charset string) *Message {
	m.html = &Body{Content: body, Charset: charsetOrDefault(charset)}
	return m
}

// SetDate sets the Date header value verbatim.
func (m *Message) SetDate(date string) *Message {
	m.date = date
	return m
}

// SetPriority sets the priority, clamped to 1..5.
func (m *Message) SetPriority(priority int) *Message {
	m.priority = min(max(priority, HighestPriority), LowestPriority)
	return m
}

// SetHeader adds a custom header. Setting the same key again replaces it.
// Keys rejected by CustomHeaderAllowed are ignored.
func (m *Message) SetHeader(key, value string) *Message {
	if !CustomHeaderAllowed(key) {
		return m
	}
	if m.headers == nil {
		m.headers = make(map[string]string)
	}
	m.headers[key] = value
	return m
}

// AddAttachment appends one or more attachments. Empty attachments are skipped.
func (m *Message) AddAttachment(attachments ...Attachment) *Message {
	for _, a := range attachments {
		if a.IsZero() {
			continue
		}
		m.attachments = append(m.attachments, a)
	}
	return m
}

// From returns the sender and whether one was set.
func (m *Message) From() (Address, bool) {
	if m.from == nil {
		return Address{}, false
	}
	return *m.from, true
}

// ReplyTo returns the reply-to address and whether one was set.
func (m *Message) ReplyTo() (Address, bool) {
	if m.replyTo == nil {
		return Address{}, false
	}
	return *m.replyTo, true
}

func (m *Message) To() []Address  { return slices.Clone(m.to) }
func (m *Message) Cc() []Address  { return slices.Clone(m.cc) }
func (m *Message) Bcc() []Address { return slices.Clone(m.bcc) }

func (m *Message) ReturnPath() string { return m.returnPath }
func (m *Message) Subject() string    { return m.subject }
func (m *Message) Date() string       { return m.date }
func (m *Message) Priority() int      { return m.priority }

// Text returns the plain-text body and whether one was set.
func (m *Message) Text() (Body, bool) {
	if m.text == nil {
		return Body{}, false
	}
	return *m.text, true
}

// HTML returns the HTML body and whether one was set.
func (m *Message) HTML() (Body, bool) {
	if m.html == nil {
		return Body{}, false
	}
	return *m.html, true
}

// Headers returns a copy of the custom headers.
func (m *Message) Headers() map[string]string {
	return maps.Clone(m.headers)
}

// Attachments returns the attachments in the order they were added.
func (m *Message) Attachments() []Attachment {
	return slices.Clone(m.attachments)
}

func charsetOrDefault(charset string) string {
	if charset == "" {
		return DefaultCharset
	}
	return charset
}
