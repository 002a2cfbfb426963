package main

import (
	"fmt"
	"log/slog"

	"github.com/psg-sentry/sentry/internal/config"
	"github.com/psg-sentry/sentry/internal/detection"
	"github.com/psg-sentry/sentry/internal/targeting"
	"github.com/psg-sentry/sentry/internal/video"
)

// Video sources accepted in video.source.
const (
	sourceMailbox  = "mailbox"
	sourceImageDir = "imagedir"
)

type videoPipeline struct {
	mailbox   *video.Mailbox
	playback  *video.ImageDirSource
	processor *video.Processor
	loader    *detection.Loader
	logger    *slog.Logger
}

func (d *daemon) startVideo() (*videoPipeline, error) {
	vc := config.GetVideoConfig()
	p := &videoPipeline{logger: d.logger}

	camera, err := video.LoadCameraConfig(vc.CameraFile, d.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load camera configuration: %w", err)
	}

	opts := []video.MailboxOption{video.WithWidth(vc.Width), video.WithCamera(camera)}
	if vc.RecordDir != "" {
		opts = append(opts, video.WithRecorder(video.NewRecorder(vc.RecordDir, d.logger)))
	}
	p.mailbox = video.NewMailbox(d.logger, opts...)

	var source video.FrameSource = p.mailbox
	switch vc.Source {
	case sourceMailbox:
	case sourceImageDir:
		p.playback, err = video.NewImageDirSource(vc.ImageDir, float64(vc.FPS), p.mailbox, d.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open image directory: %w", err)
		}
		source = p.playback
	default:
		return nil, fmt.Errorf("unknown video source: %s", vc.Source)
	}

	p.loader = detection.NewLoader(vc.DetectionFile, d.logger)
	if _, err := p.loader.Load(); err != nil {
		d.logger.Warn("Failed to load detection parameters, using defaults", "error", err)
	}
	feed := detection.NewFeed(d.logger)
	p.loader.Subscribe(feed)
	p.loader.Watch()

	if mq := d.telemetry.mqtt; mq != nil {
		if err := mq.SubscribeKeypoints(feed.HandleMessage); err != nil {
			d.logger.Warn("Keypoints will not be received", "error", err)
		}
		if vc.Source == sourceMailbox {
			if err := mq.SubscribeFrames(p.mailbox.HandleEncoded); err != nil {
				d.logger.Warn("Frames will not be received", "error", err)
			}
		}
	}

	selector := targeting.NewSelector(d.controller, d.calibration, d.controls, d.logger)
	p.processor, err = video.NewProcessor(source, selector, d.controls, d.logger,
		video.WithDetector(feed),
		video.WithEngagementRecorder(d.telemetry.worker),
		video.WithReadTimeout(vc.ReadTimeout),
		video.WithJPEGQuality(vc.JPEGQuality),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create video processor: %w", err)
	}

	if p.playback != nil {
		p.playback.Start()
	}
	p.processor.Start()
	d.logger.Info("Video pipeline started", "source", vc.Source)
	return p, nil
}

// stop ends processing before the source so the processor never waits on a
// closed source.
func (p *videoPipeline) stop() {
	p.processor.Terminate()
	if p.playback != nil {
		p.playback.Terminate()
	}
	if err := p.mailbox.Close(); err != nil {
		p.logger.Warn("Failed to close frame mailbox", "error", err)
	}
}
