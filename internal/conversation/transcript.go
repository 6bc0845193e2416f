// ABOUTME: In-memory transcript buffer accumulated during a live session
// ABOUTME: Messages stay open for attachment association until the session is saved

package conversation

// Transcript holds the messages of the session in progress.
// It is owned by a single serialized context and is not safe for concurrent use.
type Transcript struct {
	messages []Message
}

// Append adds a message at the end
func (t *Transcript) Append(m Message) {
	t.messages = append(t.messages, m)
}

// Find returns the index of the message with id, or -1
func (t *Transcript) Find(id string) int {
	for i := range t.messages {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// AppendAttachment attaches a to the message with id. It reports false when
// no such message exists.
func (t *Transcript) AppendAttachment(id string, a Attachment) bool {
	i := t.Find(id)
	if i < 0 {
		return false
	}
	t.messages[i].ImageAttachments = append(t.messages[i].ImageAttachments, a)
	return true
}

// AppendContent extends the text of the message with id
func (t *Transcript) AppendContent(id, text string) bool {
	i := t.Find(id)
	if i < 0 {
		return false
	}
	if t.messages[i].Content == "" {
		t.messages[i].Content = text
	} else {
		t.messages[i].Content += " " + text
	}
	return true
}

// Messages returns a deep copy of the buffered messages
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.messages))
	for i, m := range t.messages {
		m.ImageAttachments = append([]Attachment(nil), m.ImageAttachments...)
		out[i] = m
	}
	return out
}

// Len returns the number of buffered messages
func (t *Transcript) Len() int {
	return len(t.messages)
}

// Reset drops all messages
func (t *Transcript) Reset() {
	t.messages = nil
}
