package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/psg-sentry/sentry/internal/targeting"
	"github.com/psg-sentry/sentry/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/psg-sentry/sentry/internal/video"

// DefaultReadTimeout bounds each wait for a frame.
const DefaultReadTimeout = time.Second

// Policy tells the processor whether detection should run at all.
type Policy interface {
	Tracking() bool
	Autofire() bool
}

// Engine decides what to do with one frame's detections.
type Engine interface {
	Process(targets []core.DetectedTarget) targeting.Decision
}

// EngagementRecorder is told about every frame where the turret engaged.
type EngagementRecorder interface {
	RecordEngagement(core.Engagement)
}

// Frame is an annotated output frame.
type Frame struct {
	Image image.Image
	Seq   uint64
	Time  time.Time
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

func WithDetector(d Detector) ProcessorOption {
	return func(p *Processor) { p.detector = d }
}

func WithEngagementRecorder(r EngagementRecorder) ProcessorOption {
	return func(p *Processor) { p.engagements = r }
}

func WithReadTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) { p.readTimeout = d }
}

func WithJPEGQuality(q int) ProcessorOption {
	return func(p *Processor) { p.quality = q }
}

// Processor pulls frames from the source, runs targeting when tracking or
// autofire is on, and republishes the annotated result.
type Processor struct {
	source      FrameSource
	detector    Detector
	engine      Engine
	policy      Policy
	engagements EngagementRecorder
	readTimeout time.Duration
	quality     int
	logger      *slog.Logger

	output *slot[Frame]

	jpegMu   sync.Mutex
	jpegSeq  uint64
	jpegData []byte

	mu       sync.Mutex
	started  bool
	stop     chan struct{}
	finished chan struct{}

	frames     metric.Int64Counter
	readErrors metric.Int64Counter
	detections metric.Int64Counter
}

func NewProcessor(source FrameSource, engine Engine, policy Policy, logger *slog.Logger, opts ...ProcessorOption) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		source:      source,
		engine:      engine,
		policy:      policy,
		readTimeout: DefaultReadTimeout,
		quality:     80,
		logger:      logger.With("component", "video"),
		output:      newSlot[Frame](),
		stop:        make(chan struct{}),
		finished:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	m := otel.Meter(instrumentationName)
	var err error
	p.frames, err = m.Int64Counter("video.frames.processed",
		metric.WithDescription("Frames read from the source"))
	if err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}
	p.readErrors, err = m.Int64Counter("video.frames.read_errors",
		metric.WithDescription("Frame reads that failed or timed out"))
	if err != nil {
		return nil, fmt.Errorf("creating read error counter: %w", err)
	}
	p.detections, err = m.Int64Counter("video.detections",
		metric.WithDescription("Keypoints reported by the detector"))
	if err != nil {
		return nil, fmt.Errorf("creating detections counter: %w", err)
	}

	return p, nil
}

// Start launches the processing goroutine.
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	go p.run()
}

// Terminate stops processing, waits for the loop to exit and releases viewers.
func (p *Processor) Terminate() {
	p.mu.Lock()
	started := p.started
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	p.mu.Unlock()

	if started {
		<-p.finished
	}
	p.output.close()
}

// Configure passes camera configuration through to the source.
func (p *Processor) Configure(raw json.RawMessage) (json.RawMessage, error) {
	return p.source.Configure(raw)
}

// NextFrame blocks until a frame newer than after is available.
func (p *Processor) NextFrame(ctx context.Context, after uint64) (Frame, error) {
	f, _, err := p.output.wait(ctx, after)
	return f, err
}

// NextJPEG is NextFrame encoded as JPEG. Each frame is encoded once however
// many viewers ask for it.
func (p *Processor) NextJPEG(ctx context.Context, after uint64) ([]byte, uint64, error) {
	f, err := p.NextFrame(ctx, after)
	if err != nil {
		return nil, 0, err
	}

	p.jpegMu.Lock()
	defer p.jpegMu.Unlock()
	if p.jpegSeq == f.Seq {
		return p.jpegData, f.Seq, nil
	}
	data, err := EncodeJPEG(f.Image, p.quality)
	if err != nil {
		return nil, 0, err
	}
	p.jpegSeq, p.jpegData = f.Seq, data
	return data, f.Seq, nil
}

func (p *Processor) run() {
	defer close(p.finished)
	ctx := context.Background()

	for {
		select {
		case <-p.stop:
			p.logger.Info("Stopping video stream")
			return
		default:
		}

		frame, err := p.source.Read(p.readTimeout)
		if err != nil {
			p.readErrors.Add(ctx, 1)
			switch {
			case errors.Is(err, ErrTimeout):
				p.logger.Debug("Waiting for video...")
			case errors.Is(err, ErrClosed):
				// nothing more will ever arrive
				<-p.stop
				p.logger.Info("Stopping video stream")
				return
			default:
				p.logger.Warn("Failed to read frame", "error", err)
			}
			continue
		}
		p.frames.Add(ctx, 1)

		out := p.process(ctx, frame)
		p.publish(out)
	}
}

func (p *Processor) process(ctx context.Context, frame image.Image) image.Image {
	if !p.policy.Tracking() && !p.policy.Autofire() {
		return frame
	}

	var keypoints []core.Keypoint
	if p.detector != nil {
		kps, err := p.detector.Detect(frame)
		if err != nil {
			// an empty frame still lets the policy cease fire
			p.logger.Warn("Detection failed", "error", err)
		} else {
			keypoints = kps
		}
	}
	p.detections.Add(ctx, int64(len(keypoints)))

	decision := p.engine.Process(targeting.Classify(frame, keypoints))

	if decision.Engaged && p.engagements != nil {
		p.engagements.RecordEngagement(core.Engagement{
			Time:   time.Now(),
			PixelX: decision.Target.PixelX,
			PixelY: decision.Target.PixelY,
			Colour: decision.Target.Colour,
			Pan:    decision.Aim.Pan,
			Tilt:   decision.Aim.Tilt,
			Cost:   decision.Cost,
		})
	}

	return Annotate(frame, decision)
}

func (p *Processor) publish(img image.Image) {
	_, seq := p.output.latest()
	p.output.publish(Frame{Image: img, Seq: seq + 1, Time: time.Now()})
}
