package domain

import "strings"

// EncodedImage is a self-describing image: data:<mime>;base64,<payload>.
// The zero value means "no image".
type EncodedImage string

// IsZero reports whether no image is present.
func (e EncodedImage) IsZero() bool {
	return strings.TrimSpace(string(e)) == ""
}

// Message is one entry of a conversation (user or assistant).
// Messages are values: once appended they are never edited.
type Message struct {
	ID        MessageID
	Role      Role
	Text      string
	Subject   Subject
	Image     EncodedImage
	CreatedAt Timestamp
}

// Snapshot is the observable state of one chat session.
type Snapshot struct {
	SessionID     SessionID
	Subject       Subject
	Messages      []Message
	AwaitingReply bool
	Attachment    EncodedImage // pending image, not yet sent
}
