package video

import (
	"bufio"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Recorder writes received frames to motion-JPEG files, one per segment.
// The file handle is only ever opened when a segment starts.
type Recorder struct {
	mu      sync.Mutex
	dir     string
	quality int
	file    *os.File
	buf     *bufio.Writer
	frames  int
	now     func() time.Time
	logger  *slog.Logger
}

func NewRecorder(dir string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		dir:     dir,
		quality: 80,
		now:     time.Now,
		logger:  logger.With("component", "recorder"),
	}
}

// Write appends frame to the current segment, starting one if needed.
func (r *Recorder) Write(frame image.Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.startSegment(); err != nil {
			return err
		}
	}
	if err := jpeg.Encode(r.buf, frame, &jpeg.Options{Quality: r.quality}); err != nil {
		return fmt.Errorf("encoding recorded frame: %w", err)
	}
	r.frames++
	return nil
}

// EndSegment closes the current segment, if any.
func (r *Recorder) EndSegment() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.stopSegment(); err != nil {
		r.logger.Warn("Failed to close recording", "error", err)
	}
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopSegment()
}

func (r *Recorder) startSegment() error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("creating recording directory: %w", err)
	}
	name := filepath.Join(r.dir, fmt.Sprintf("recording-%s.mjpeg", r.now().Format("20060102-150405.000")))
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("creating recording: %w", err)
	}
	r.file = f
	r.buf = bufio.NewWriter(f)
	r.frames = 0
	r.logger.Debug("Started recording", "file", name)
	return nil
}

func (r *Recorder) stopSegment() error {
	if r.file == nil {
		return nil
	}
	name := r.file.Name()
	flushErr := r.buf.Flush()
	closeErr := r.file.Close()
	r.logger.Debug("Stopped recording", "file", name, "frames", r.frames)
	r.file, r.buf = nil, nil
	if flushErr != nil {
		return fmt.Errorf("flushing recording: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing recording: %w", closeErr)
	}
	return nil
}
