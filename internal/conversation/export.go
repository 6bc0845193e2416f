// ABOUTME: Renders a conversation record as Markdown or HTML for export
// ABOUTME: HTML goes through goldmark so message text is escaped consistently

package conversation

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
)

// Markdown renders record as a Markdown document. Image attachments are linked
// relative to imageBase.
func Markdown(record Record, imageBase string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", record.Title())
	fmt.Fprintf(&b, "_%s · %s · %s · %d messages_\n\n",
		record.Timestamp.Format(time.DateTime), record.Category, record.Language, record.MessageCount())

	for _, m := range record.Messages {
		speaker := "AI"
		if m.Role == RoleUser {
			speaker = "You"
		}
		fmt.Fprintf(&b, "**%s** (%s)\n\n%s\n\n", speaker, m.Timestamp.Format("15:04:05"), m.Content)
		for _, a := range m.ImageAttachments {
			name := a.OriginalFileName
			if name == "" {
				name = a.FileName
			}
			fmt.Fprintf(&b, "![keyframe](%s/%s)\n\n", strings.TrimSuffix(imageBase, "/"), name)
		}
	}
	return b.String()
}

// RenderHTML converts the Markdown rendering of record to HTML
func RenderHTML(record Record, imageBase string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(record, imageBase)), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}
