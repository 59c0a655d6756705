package source

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"basenet/internal/reimport"
	dErrors "basenet/pkg/domain-errors"
)

// File reads a GeoJSON feature collection once and serves envelopes from
// memory.
type File struct {
	path       string
	idProperty string
	logger     *slog.Logger

	once     sync.Once
	features []reimport.RawFeature
	err      error
}

type FileOption func(*File)

func WithFileLogger(logger *slog.Logger) FileOption {
	return func(f *File) {
		f.logger = logger
	}
}

func WithFileIDProperty(name string) FileOption {
	return func(f *File) {
		f.idProperty = name
	}
}

func NewFile(path string, opts ...FileOption) *File {
	f := &File{path: path, idProperty: DefaultIDProperty, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *File) Fetch(ctx context.Context, envelope orb.Bound) ([]reimport.RawFeature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.once.Do(f.load)
	if f.err != nil {
		return nil, f.err
	}
	return filter(f.features, envelope), nil
}

func (f *File) load() {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		f.err = dErrors.Wrap(err, dErrors.CodeUnavailable, "read import file")
		return
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		f.err = dErrors.Wrap(err, dErrors.CodeUnavailable, "decode import file")
		return
	}
	f.features = Decode(fc, f.idProperty, f.logger)
	f.logger.Info("import_file_loaded", "path", f.path, "features", len(f.features))
}
