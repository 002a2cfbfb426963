// Package detection manages blob-detector parameters and adapts external
// keypoint producers to the video pipeline.
package detection

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DefaultFile is the parameter file name used when none is configured.
const DefaultFile = "detection.yaml"

// Range is an inclusive bound pair.
type Range struct {
	Min float64
	Max float64
}

// Params are the blob-detector settings. Filters are only active when their
// keys are present in the file.
type Params struct {
	ThresholdMin        float64
	ThresholdStep       float64
	ThresholdMax        float64
	MinDistBetweenBlobs float64
	MinRepeatability    int
	FilterByColor       bool
	BlobColor           int
	FilterByArea        bool
	Area                Range
	FilterByCircularity bool
	Circularity         Range
	FilterByConvexity   bool
	Convexity           Range
	FilterByInertia     bool
	Inertia             Range
}

// DefaultParams are the stock blob-detector settings.
func DefaultParams() Params {
	return Params{
		ThresholdMin:        50,
		ThresholdStep:       10,
		ThresholdMax:        220,
		MinDistBetweenBlobs: 10,
		MinRepeatability:    2,
		FilterByColor:       true,
		BlobColor:           0,
		FilterByArea:        true,
		Area:                Range{Min: 25, Max: 5000},
		FilterByCircularity: false,
		Circularity:         Range{Min: 0.8, Max: math.MaxFloat32},
		FilterByConvexity:   true,
		Convexity:           Range{Min: 0.95, Max: math.MaxFloat32},
		FilterByInertia:     true,
		Inertia:             Range{Min: 0.1, Max: math.MaxFloat32},
	}
}

func (p Params) String() string {
	s := fmt.Sprintf("threshold from %g to %g via %g steps, ", p.ThresholdMin, p.ThresholdMax, p.ThresholdStep)
	if p.FilterByColor {
		s += fmt.Sprintf("filter: colour is %d, ", p.BlobColor)
	}
	if p.FilterByArea {
		s += fmt.Sprintf("filter: %.2f < area < %.2f, ", p.Area.Min, p.Area.Max)
	}
	if p.FilterByCircularity {
		s += fmt.Sprintf("filter: %.2f < circularity < %.2f, ", p.Circularity.Min, p.Circularity.Max)
	}
	if p.FilterByConvexity {
		s += fmt.Sprintf("filter: %.2f < convexity < %.2f, ", p.Convexity.Min, p.Convexity.Max)
	}
	if p.FilterByInertia {
		s += fmt.Sprintf("filter: %.2f < inertia ratio < %.2f, ", p.Inertia.Min, p.Inertia.Max)
	}
	s += fmt.Sprintf("minimum distance between blobs is %d, ", int(p.MinDistBetweenBlobs))
	s += fmt.Sprintf("minimum repeatability is %d", p.MinRepeatability)
	return s
}

// Configurable detectors accept new parameters while running.
type Configurable interface {
	SetParams(Params)
}

// Loader reads Params from a YAML file with its own viper instance and keeps
// them current while the file changes.
type Loader struct {
	mu     sync.Mutex
	v      *viper.Viper
	path   string
	params Params
	subs   []Configurable
	logger *slog.Logger
}

func NewLoader(path string, logger *slog.Logger) *Loader {
	if path == "" {
		path = DefaultFile
	}
	if logger == nil {
		logger = slog.Default()
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	return &Loader{
		v:      v,
		path:   path,
		params: DefaultParams(),
		logger: logger.With("component", "detection"),
	}
}

// Load reads the file. When it does not exist the defaults are written so the
// operator has something to edit next time.
func (l *Loader) Load() (Params, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(l.path); errors.Is(err, fs.ErrNotExist) {
		l.params = DefaultParams()
		l.logger.Info("Parameter file not found, using defaults", "path", l.path, "params", l.params.String())
		if err := l.writeDefaults(); err != nil {
			return l.params, err
		}
		return l.params, nil
	}

	if err := l.v.ReadInConfig(); err != nil {
		return l.params, fmt.Errorf("reading %s: %w", l.path, err)
	}
	l.params = l.decode()
	l.logger.Info("Loaded detection parameters", "path", l.path, "params", l.params.String())
	return l.params, nil
}

// Params returns the parameters currently in effect.
func (l *Loader) Params() Params {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.params
}

// Subscribe registers a detector to receive the current parameters now and
// every reload afterwards.
func (l *Loader) Subscribe(c Configurable) {
	l.mu.Lock()
	l.subs = append(l.subs, c)
	p := l.params
	l.mu.Unlock()

	c.SetParams(p)
}

// Watch reloads the file whenever it changes on disk.
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.logger.Debug("Parameter file changed", "path", e.Name, "op", e.Op.String())
		l.reload()
	})
	l.v.WatchConfig()
}

func (l *Loader) reload() {
	l.mu.Lock()
	if err := l.v.ReadInConfig(); err != nil {
		// editors sometimes move the file away briefly while saving
		l.mu.Unlock()
		l.logger.Debug("Could not reread parameter file", "error", err)
		return
	}
	l.params = l.decode()
	p := l.params
	subs := append([]Configurable(nil), l.subs...)
	l.mu.Unlock()

	l.logger.Info("Reloaded detection parameters", "params", p.String())
	for _, s := range subs {
		s.SetParams(p)
	}
}

// decode must be called with l.mu held. Unset numeric keys keep their
// default values; filters are switched on by the presence of their keys.
func (l *Loader) decode() Params {
	d := DefaultParams()
	v := l.v
	p := Params{
		ThresholdMin:        floatOr(v, "threshold.min", d.ThresholdMin),
		ThresholdStep:       floatOr(v, "threshold.step", d.ThresholdStep),
		ThresholdMax:        floatOr(v, "threshold.max", d.ThresholdMax),
		MinDistBetweenBlobs: floatOr(v, "distance_between_blobs.min", d.MinDistBetweenBlobs),
		MinRepeatability:    d.MinRepeatability,
		BlobColor:           d.BlobColor,
		Area:                d.Area,
		Circularity:         d.Circularity,
		Convexity:           d.Convexity,
		Inertia:             d.Inertia,
	}
	if v.IsSet("repeatability.min") {
		p.MinRepeatability = v.GetInt("repeatability.min")
	}
	if v.IsSet("filter.color") {
		p.FilterByColor = true
		p.BlobColor = v.GetInt("filter.color")
	}
	p.FilterByArea = readRange(v, "filter.area", &p.Area)
	p.FilterByCircularity = readRange(v, "filter.circularity", &p.Circularity)
	p.FilterByConvexity = readRange(v, "filter.convexity", &p.Convexity)
	p.FilterByInertia = readRange(v, "filter.inertia", &p.Inertia)
	return p
}

func floatOr(v *viper.Viper, key string, def float64) float64 {
	if v.IsSet(key) {
		return v.GetFloat64(key)
	}
	return def
}

func readRange(v *viper.Viper, key string, r *Range) bool {
	found := false
	if v.IsSet(key + ".min") {
		r.Min = v.GetFloat64(key + ".min")
		found = true
	}
	if v.IsSet(key + ".max") {
		r.Max = v.GetFloat64(key + ".max")
		found = true
	}
	return found
}

// writeDefaults uses a scratch viper so the values written never shadow
// what is later read back from the file.
func (l *Loader) writeDefaults() error {
	d := DefaultParams()
	w := viper.New()
	w.SetConfigType("yaml")
	w.Set("threshold.min", d.ThresholdMin)
	w.Set("threshold.step", d.ThresholdStep)
	w.Set("threshold.max", d.ThresholdMax)
	w.Set("distance_between_blobs.min", d.MinDistBetweenBlobs)
	w.Set("repeatability.min", d.MinRepeatability)
	w.Set("filter.color", d.BlobColor)
	w.Set("filter.area.min", d.Area.Min)
	w.Set("filter.area.max", d.Area.Max)
	w.Set("filter.convexity.min", d.Convexity.Min)
	w.Set("filter.inertia.min", d.Inertia.Min)

	if err := w.WriteConfigAs(l.path); err != nil {
		return fmt.Errorf("writing default detection parameters: %w", err)
	}
	return nil
}
