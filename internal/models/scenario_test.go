package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOtherChoicePicksFirstDifferentText(t *testing.T) {
	b := &Branch{ID: "fork", Choices: []Choice{
		{Text: "same", Next: "a"},
		{Text: "same", Next: "b"},
		{Text: "left", Next: "c"},
		{Text: "right", Next: "d"},
	}}

	other, ok := b.OtherChoice("same")
	assert.True(t, ok)
	assert.Equal(t, Choice{Text: "left", Next: "c"}, other)

	other, ok = b.OtherChoice("left")
	assert.True(t, ok)
	assert.Equal(t, Choice{Text: "same", Next: "a"}, other)

	single := &Branch{ID: "one", Choices: []Choice{{Text: "only", Next: "x"}}}
	_, ok = single.OtherChoice("only")
	assert.False(t, ok)
}

func TestHasChoiceAndChoicesOf(t *testing.T) {
	b := &Branch{ID: "b", Choices: []Choice{{Text: "go", Next: "end"}}}
	o := &Outcome{ID: "end", Text: "done"}

	assert.True(t, b.HasChoice(Choice{Text: "go", Next: "end"}))
	assert.False(t, b.HasChoice(Choice{Text: "go", Next: "elsewhere"}))
	assert.Len(t, ChoicesOf(b), 1)
	assert.Nil(t, ChoicesOf(o))
	assert.Equal(t, KindOutcome, o.Kind())
}

func TestPaletteColorWraps(t *testing.T) {
	assert.Equal(t, "#8b5cf6", PaletteColor(0))
	assert.Equal(t, "#8b5cf6", PaletteColor(len(Palette)))
	assert.Equal(t, "#f59e0b", PaletteColor(3))
}

func TestTimelineCloneIsDeep(t *testing.T) {
	tl := Timeline{ID: "1", Path: []string{"a"}}
	c := tl.Clone()
	c.Path[0] = "b"
	assert.Equal(t, "a", tl.Path[0])
}
