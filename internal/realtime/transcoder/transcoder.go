// Package transcoder decodes an arbitrary container/codec audio stream into
// raw PCM suitable for an upstream realtime transcription session.
package transcoder

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/yourusername/medinterp/internal/logger"
)

// ErrNotReady is returned by WriteChunk once the transcoder's input has been
// closed by FinalizeInput or Stop.
var ErrNotReady = errors.New("transcoder: not ready for data")

const (
	outputSampleRate = 24000
	outputChannels   = 1
	outputFormat     = "s16le"
)

// Transcoder wraps a single ffmpeg subprocess owned exclusively by one
// conversation. It is not safe for concurrent Start/Stop calls, but
// WriteChunk may be called while Data/Finished/Err are being drained.
type Transcoder struct {
	ffmpegPath string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	closed  bool
	errored bool

	Data     chan []byte
	Finished chan struct{}
	Err      chan error
}

// New builds a Transcoder; call Start to launch the underlying process.
func New(ffmpegPath string) *Transcoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Transcoder{
		ffmpegPath: ffmpegPath,
		Data:       make(chan []byte, 64),
		Finished:   make(chan struct{}),
		Err:        make(chan error, 1),
	}
}

// Start launches ffmpeg reading an arbitrary container/codec from stdin and
// writing signed 16-bit little-endian mono PCM at 24kHz to stdout. Start
// runs once per Transcoder: any later call, including one after Stop,
// returns an error.
func (t *Transcoder) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd != nil {
		return fmt.Errorf("transcoder: already started")
	}

	log := logger.WithComponent("transcoder")

	cmd := exec.Command(t.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", outputFormat,
		"-ac", fmt.Sprint(outputChannels),
		"-ar", fmt.Sprint(outputSampleRate),
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("transcoder: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("transcoder: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("transcoder: start ffmpeg: %w", err)
	}

	t.cmd = cmd
	t.stdin = stdin

	go t.pump(stdout)

	log.Debug().Msg("transcoder started")
	return nil
}

// pump copies ffmpeg's stdout into Data chunks until EOF or a read error,
// then waits for the process to exit and signals Finished or Err.
func (t *Transcoder) pump(stdout io.ReadCloser) {
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case t.Data <- chunk:
			default:
				// slow consumer; drop rather than block the decode loop
			}
		}
		if err != nil {
			t.mu.Lock()
			cmd := t.cmd
			t.mu.Unlock()

			waitErr := (error)(nil)
			if cmd != nil {
				waitErr = cmd.Wait()
			}

			if err == io.EOF && waitErr == nil {
				close(t.Finished)
			} else {
				t.mu.Lock()
				t.errored = true
				t.mu.Unlock()
				if waitErr == nil {
					waitErr = err
				}
				t.Err <- fmt.Errorf("transcoder: decode failed: %w", waitErr)
			}
			return
		}
	}
}

// WriteChunk enqueues one input chunk of container/codec bytes.
func (t *Transcoder) WriteChunk(b []byte) error {
	t.mu.Lock()
	stdin := t.stdin
	ready := !t.closed && !t.errored && stdin != nil
	t.mu.Unlock()

	if !ready {
		return ErrNotReady
	}
	_, err := stdin.Write(b)
	return err
}

// IsReadyForData reports whether input is open and the transcoder hasn't errored.
func (t *Transcoder) IsReadyForData() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && !t.errored && t.stdin != nil
}

// FinalizeInput closes stdin; ffmpeg will flush remaining output and the pump
// goroutine will close Finished exactly once on a clean exit.
func (t *Transcoder) FinalizeInput() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.stdin == nil {
		return nil
	}
	return t.stdin.Close()
}

// Stop forcibly terminates the transcoder by closing its input and killing
// the process. Events are not suppressed: the pump goroutine still observes
// the killed process's exit and reports it once on Err.
func (t *Transcoder) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
}
