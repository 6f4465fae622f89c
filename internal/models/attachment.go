package models

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Valid reports whether k is a known attachment kind.
func (k AttachmentKind) Valid() bool {
	return k == AttachmentImage || k == AttachmentFile
}

// Attachment is owned by exactly one message and stored inline with it.
type Attachment struct {
	Kind    AttachmentKind `json:"type"`
	URL     string         `json:"url"`
	Name    string         `json:"name"`
	Caption *string        `json:"caption,omitempty"`
}
