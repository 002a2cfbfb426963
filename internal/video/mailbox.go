package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"
)

// Mailbox is a FrameSource fed by an external producer calling Publish.
// Only the most recent frame is kept.
type Mailbox struct {
	frames   *slot[image.Image]
	lastRead uint64
	width    int
	camera   *CameraConfig
	recorder *Recorder
	logger   *slog.Logger
}

// MailboxOption configures a Mailbox.
type MailboxOption func(*Mailbox)

// WithWidth scales frames wider than width down before they are read.
func WithWidth(width int) MailboxOption {
	return func(m *Mailbox) { m.width = width }
}

// WithCamera passes configuration calls through to the camera settings.
func WithCamera(c *CameraConfig) MailboxOption {
	return func(m *Mailbox) { m.camera = c }
}

// WithRecorder writes every received frame to the recorder.
func WithRecorder(r *Recorder) MailboxOption {
	return func(m *Mailbox) { m.recorder = r }
}

func NewMailbox(logger *slog.Logger, opts ...MailboxOption) *Mailbox {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mailbox{
		frames: newSlot[image.Image](),
		logger: logger.With("component", "frames"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Publish hands a new frame to the pipeline. It never blocks.
func (m *Mailbox) Publish(frame image.Image) {
	if m.recorder != nil {
		if err := m.recorder.Write(frame); err != nil {
			m.logger.Warn("Failed to record frame", "error", err)
		}
	}
	m.frames.publish(frame)
}

// HandleEncoded decodes a JPEG or PNG payload and publishes it.
func (m *Mailbox) HandleEncoded(payload []byte) error {
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("decoding frame: %w", err)
	}
	m.Publish(img)
	return nil
}

// EndOfSegment closes the current recording segment; the next frame starts a new one.
func (m *Mailbox) EndOfSegment() {
	if m.recorder != nil {
		m.recorder.EndSegment()
	}
}

// Read waits up to timeout for a frame newer than the last one read.
// Read is meant for a single consumer.
func (m *Mailbox) Read(timeout time.Duration) (image.Image, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	frame, seq, err := m.frames.wait(ctx, m.lastRead)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrTimeout
	}
	if err != nil {
		return nil, err
	}
	m.lastRead = seq

	return Resize(frame, m.width), nil
}

// Configure passes through to the camera configuration, if any.
func (m *Mailbox) Configure(raw json.RawMessage) (json.RawMessage, error) {
	if m.camera == nil {
		return json.RawMessage("null"), nil
	}
	return m.camera.Configure(raw)
}

// Dropped counts frames overwritten before they were read.
func (m *Mailbox) Dropped() uint64 {
	return m.frames.dropped()
}

// Close wakes the reader for good and ends any recording.
func (m *Mailbox) Close() error {
	m.frames.close()
	if m.recorder != nil {
		return m.recorder.Close()
	}
	return nil
}
