// ABOUTME: Tests for parsing streamed replies into headline and narration
// ABOUTME: Covers prefixes, enumeration tokens, and empty input

package movie

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		headline  string
		narration string
	}{
		{
			name:      "labelled lines",
			text:      "一句话：你在《盗梦空间》\n氛围：城市夜晚潮湿的街道让人恍惺",
			headline:  "你在《盗梦空间》",
			narration: "城市夜晚潮湿的街道让人恍惺",
		},
		{name: "single line", text: "只有一行", headline: "只有一行"},
		{name: "empty", text: ""},
		{
			name:      "numbered lines",
			text:      "1. 你现在像在《迷失东京》\n2、有些时刻不会被记住",
			headline:  "你现在像在《迷失东京》",
			narration: "有些时刻不会被记住",
		},
		{
			name:      "full-width numbering",
			text:      "１. 标题：你在《花样年华》\n２) 旁白：走廊里的灯很暗",
			headline:  "你在《花样年华》",
			narration: "走廊里的灯很暗",
		},
		{
			name:      "english labels any case",
			text:      "Headline: Lost in Translation\nMood: quiet neon rain",
			headline:  "Lost in Translation",
			narration: "quiet neon rain",
		},
		{
			name:      "narration lines joined",
			text:      "  标题:你在《花样年华》 \n\n旁白：有些时刻不会被记住，\n但它们构成了你走到这里的全部理由。\n",
			headline:  "你在《花样年华》",
			narration: "有些时刻不会被记住， 但它们构成了你走到这里的全部理由。",
		},
		{
			name:     "headline only label falls back to text",
			text:     "标题：",
			headline: "标题：",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Parse(tt.text)
			assert.Equal(t, tt.headline, r.Headline)
			assert.Equal(t, tt.narration, r.Narration)
		})
	}
}

func TestParse_KeepsRawText(t *testing.T) {
	r := Parse("\n 一句话：你在《银翼杀手》\n氛围：雨 \n")
	assert.Equal(t, "一句话：你在《银翼杀手》\n氛围：雨", r.RawText)
}

func TestResult_SpeechText(t *testing.T) {
	assert.Equal(t, "你在《盗梦空间》\n城市夜晚", Result{Headline: " 你在《盗梦空间》", Narration: "城市夜晚 "}.SpeechText())
	assert.Equal(t, "只有标题", Result{Headline: "只有标题"}.SpeechText())
	assert.Equal(t, "raw", Result{RawText: " raw "}.SpeechText())
}

func TestSessionInstructions_FreshTag(t *testing.T) {
	a, tagA := SessionInstructions("base")
	b, tagB := SessionInstructions("base")

	assert.Len(t, tagA, 8)
	assert.NotEqual(t, tagA, tagB)
	assert.Contains(t, a, "base\n\n【会话ID: "+tagA+"】")
	assert.Contains(t, b, "这是一次全新的会话，请忽略之前的对话和结果。")
}
