// ABOUTME: Parses the streamed "walk into a movie" reply into a headline and narration
// ABOUTME: Pure and deterministic so it can run on every transcript delta

package movie

import (
	"regexp"
	"strings"
)

var numberPrefix = regexp.MustCompile(`^\p{Nd}+[\.\)、:\-\s]+`)

var headlinePrefixes = []string{
	"一句话：", "一句话:", "一句话—", "一句话 -", "标题：", "标题:",
	"headline:", "title:",
}

var narrationPrefixes = []string{
	"氛围旁白：", "氛围旁白:", "旁白：", "旁白:", "氛围：", "氛围:",
	"narration:", "mood:",
}

// Result is a parsed reply
type Result struct {
	Headline  string `json:"headline"`
	Narration string `json:"narration"`
	RawText   string `json:"rawText"`
}

// SpeechText is what a speaker would read aloud
func (r Result) SpeechText() string {
	headline := strings.TrimSpace(r.Headline)
	narration := strings.TrimSpace(r.Narration)
	switch {
	case headline == "":
		return strings.TrimSpace(r.RawText)
	case narration == "":
		return headline
	default:
		return headline + "\n" + narration
	}
}

// Parse splits accumulated reply text into its headline and narration
func Parse(text string) Result {
	cleaned := strings.TrimSpace(text)

	var lines []string
	for _, line := range strings.Split(cleaned, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	var r Result
	r.RawText = cleaned
	if len(lines) > 0 {
		r.Headline = sanitize(lines[0], headlinePrefixes)
	}
	if len(lines) > 1 {
		r.Narration = sanitize(strings.Join(lines[1:], " "), narrationPrefixes)
	}
	if r.Headline == "" {
		r.Headline = cleaned
	}
	return r
}

func sanitize(line string, prefixes []string) string {
	text := numberPrefix.ReplaceAllString(strings.TrimSpace(line), "")
	for _, p := range prefixes {
		if len(text) >= len(p) && strings.EqualFold(text[:len(p)], p) {
			text = text[len(p):]
			break
		}
	}
	return strings.TrimSpace(text)
}
