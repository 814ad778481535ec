package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrouter/backend/internal/task"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []struct {
		id    uint32
		chunk string
	}{
		{7, "hello"},
		{0, "x"},
		{0x6fffffff, "多字节 ✓ text"},
		{1 << 31, "\n"},
	}
	for _, c := range cases {
		f, err := DecodeFrame(EncodeFrame(c.id, []byte(c.chunk)))
		require.NoError(t, err)
		assert.Equal(t, c.id, f.TaskID)
		assert.Equal(t, c.chunk, string(f.Payload))
		assert.False(t, f.EOS)
	}
}

func TestFrameEndOfStream(t *testing.T) {
	b := EncodeFrame(7, nil)
	assert.Equal(t, []byte{0, 0, 0, 7}, b)

	f, err := DecodeFrame(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), f.TaskID)
	assert.True(t, f.EOS)
	assert.Empty(t, f.Payload)
}

func TestFrameShort(t *testing.T) {
	_, err := DecodeFrame([]byte{0, 1})
	assert.ErrorIs(t, err, ErrShortFrame)
	_, err = DecodeFrame(nil)
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestCommandEncoding(t *testing.T) {
	stop, err := DecodeCommand(EncodeStop(42))
	require.NoError(t, err)
	assert.True(t, stop.Stop)
	assert.Equal(t, uint32(42), stop.ID)

	b, err := EncodeSubmit(task.Payload{ID: 9, Model: "m", MaxNewTokens: 5})
	require.NoError(t, err)
	sub, err := DecodeCommand(b)
	require.NoError(t, err)
	assert.False(t, sub.Stop)
	assert.Equal(t, uint32(9), sub.ID)
	assert.Equal(t, 5, sub.MaxNewTokens)
}
