package email

// AttachmentKind tells how an attachment's content is obtained.
type AttachmentKind int

const (
	// KindInline carries its bytes directly.
	KindInline AttachmentKind = iota
	// KindPath references a file on the local filesystem.
	KindPath
	// KindURL references a remote resource fetched at send time.
	KindURL
)

func (k AttachmentKind) String() string {
	switch k {
	case KindInline:
		return "inline"
	case KindPath:
		return "path"
	case KindURL:
		return "url"
	default:
		return "unknown"
	}
}

// Attachment is a file attached to a message. Path and URL references are
// resolved lazily, when the message is sent.
type Attachment struct {
	kind        AttachmentKind
	body        []byte
	name        string
	contentType string
	ref         string
}

// Inline creates an attachment from in-memory content.
func Inline(body []byte, name, contentType string) Attachment {
	return Attachment{kind: KindInline, body: body, name: name, contentType: contentType}
}

// FromPath creates an attachment that references a local file.
// An empty name means the transport picks one from the path.
func FromPath(path, name string) Attachment {
	return Attachment{kind: KindPath, ref: path, name: name}
}

// FromURL creates an attachment that references a remote resource.
// An empty name means a name is synthesized from the content type.
func FromURL(url, name string) Attachment {
	return Attachment{kind: KindURL, ref: url, name: name}
}

func (a Attachment) Kind() AttachmentKind { return a.kind }
func (a Attachment) Body() []byte         { return a.body }
func (a Attachment) Name() string         { return a.name }
func (a Attachment) ContentType() string  { return a.contentType }

// Path returns the filesystem path of a KindPath attachment.
func (a Attachment) Path() string {
	if a.kind != KindPath {
		return ""
	}
	return a.ref
}

// URL returns the location of a KindURL attachment.
func (a Attachment) URL() string {
	if a.kind != KindURL {
		return ""
	}
	return a.ref
}

// IsZero reports whether the attachment carries nothing at all.
func (a Attachment) IsZero() bool {
	return len(a.body) == 0 && a.name == "" && a.contentType == "" && a.ref == ""
}

func (a Attachment) document() AttachmentDocument {
	doc := AttachmentDocument{
		Name:        a.name,
		ContentType: a.contentType,
	}
	switch a.kind {
	case KindInline:
		doc.Body = string(a.body)
	case KindPath:
		doc.Path = a.ref
	case KindURL:
		doc.URL = a.ref
	}
	return doc
}
