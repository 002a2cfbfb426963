package video

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// ImageDirSource plays the still images of a directory into a Mailbox in
// name order at a fixed rate, looping forever. It stands in for a camera when
// testing against recorded footage.
type ImageDirSource struct {
	*Mailbox

	files    []string
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	started  bool
	stop     chan struct{}
	finished chan struct{}
}

// NewImageDirSource lists the .jpg, .jpeg and .png files in dir.
func NewImageDirSource(dir string, fps float64, mailbox *Mailbox, logger *slog.Logger) (*ImageDirSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading image directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	slices.Sort(files)

	if fps <= 0 {
		fps = 10
	}

	return &ImageDirSource{
		Mailbox:  mailbox,
		files:    files,
		interval: time.Duration(float64(time.Second) / fps),
		logger:   logger.With("component", "playback"),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}, nil
}

// Start launches playback.
func (s *ImageDirSource) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.run()
}

// Terminate stops playback and waits for it to finish.
func (s *ImageDirSource) Terminate() {
	s.mu.Lock()
	started := s.started
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.mu.Unlock()

	if started {
		<-s.finished
	}
}

func (s *ImageDirSource) run() {
	defer close(s.finished)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		if i == len(s.files) {
			i = 0
			s.EndOfSegment()
		}
		if i == 0 {
			s.logger.Debug("Playing images", "count", len(s.files))
		}

		frame, err := decodeImage(s.files[i])
		if err != nil {
			s.logger.Warn("Skipping unreadable image", "file", s.files[i], "error", err)
		} else {
			s.Publish(frame)
		}

		select {
		case <-s.stop:
			s.logger.Info("Stopping playback")
			return
		case <-ticker.C:
		}
	}
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}
