package transcoder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteChunkBeforeStartIsNotReady(t *testing.T) {
	tc := New("ffmpeg")
	require.False(t, tc.IsReadyForData())
	require.ErrorIs(t, tc.WriteChunk([]byte{0x00}), ErrNotReady)
}

func TestFinalizeInputBeforeStartIsNoOp(t *testing.T) {
	tc := New("ffmpeg")
	require.NoError(t, tc.FinalizeInput())
	require.False(t, tc.IsReadyForData())
}

func TestStopBeforeStartDoesNotPanic(t *testing.T) {
	tc := New("ffmpeg")
	require.NotPanics(t, tc.Stop)
}

func TestNewDefaultsFFmpegPath(t *testing.T) {
	tc := New("")
	require.Equal(t, "ffmpeg", tc.ffmpegPath)
}
