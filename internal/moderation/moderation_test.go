package moderation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrouter/backend/internal/task"
)

func TestFilterFlagsCaseInsensitive(t *testing.T) {
	f, err := Compile([]string{"forbidden word", "bad+"})
	require.NoError(t, err)

	assert.True(t, f.Flagged("this is a FORBIDDEN Word here"))
	assert.True(t, f.Flagged("baaad"))
	assert.False(t, f.Flagged("perfectly fine"))
}

func TestNilAndEmptyFilterNeverFlag(t *testing.T) {
	var f *Filter
	assert.False(t, f.Flagged("anything"))

	empty, err := Compile(nil)
	require.NoError(t, err)
	assert.False(t, empty.Enabled())
	assert.False(t, empty.Flagged("anything"))
}

func TestLoadRejectsBlankLines(t *testing.T) {
	_, err := Load(strings.NewReader("one\n\ntwo\n"))
	assert.Error(t, err)

	f, err := Load(strings.NewReader("one\n two \n"))
	require.NoError(t, err)
	assert.True(t, f.Flagged("TWO"))
}

func TestCheckMessagesOnlyRecent(t *testing.T) {
	f, err := Compile([]string{"secret"})
	require.NoError(t, err)

	msgs := []task.Message{
		{Content: "secret"},
		{Content: "a"}, {Content: "b"}, {Content: "c"},
	}
	_, flagged := f.CheckMessages(msgs, 3)
	assert.False(t, flagged)

	msgs = append(msgs, task.Message{Content: "tell me the Secret"})
	idx, flagged := f.CheckMessages(msgs, 3)
	assert.True(t, flagged)
	assert.Equal(t, 4, idx)
}

func TestWindowDue(t *testing.T) {
	w := DefaultWindow
	assert.False(t, w.Due(50, 0, false))
	assert.True(t, w.Due(51, 0, false))
	assert.True(t, w.Due(3, 0, true))
	assert.Equal(t, 0, w.Start(4))
	assert.Equal(t, 50, w.Start(60))
}

func TestWindowCatchesPatternAcrossChunks(t *testing.T) {
	f, err := Compile([]string{"forbidden"})
	require.NoError(t, err)
	w := DefaultWindow

	chunk1 := strings.Repeat("x", 56) + "forb"
	chunk2 := "idden word and more"

	text := chunk1
	cursor, flagged := w.Scan(f, text, 0, false)
	require.False(t, flagged)
	require.Equal(t, len(chunk1), cursor)

	text += chunk2
	_, flagged = w.Scan(f, text, cursor, true)
	assert.True(t, flagged)
}

func TestWindowSkipsSmallGrowth(t *testing.T) {
	f, err := Compile([]string{"bad"})
	require.NoError(t, err)

	cursor, flagged := DefaultWindow.Scan(f, "bad", 0, false)
	assert.False(t, flagged)
	assert.Equal(t, 0, cursor)

	_, flagged = DefaultWindow.Scan(f, "bad", 0, true)
	assert.True(t, flagged)
}
