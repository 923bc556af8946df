package framestore

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Hunk0724/video2skeleton/internal/domain/entity"
	"github.com/Hunk0724/video2skeleton/internal/domain/port"
	"github.com/maruel/natural"
)

const (
	namePrefix = "frame_"
	nameSuffix = ".png"
)

// Name returns the artifact file name for a frame index. Names are zero
// padded and also sort naturally, so 9 < 10 under either ordering.
func Name(index int) string {
	return fmt.Sprintf("%s%08d%s", namePrefix, index, nameSuffix)
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (Factory) NewSink(dir string) (port.FrameSink, error) {
	return NewPNGSink(dir)
}

// PNGSink writes canvases as PNG files into one scratch directory.
type PNGSink struct {
	dir     string
	encoder png.Encoder
	stored  map[int]bool
}

func NewPNGSink(dir string) (*PNGSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create frames dir: %w", err)
	}
	return &PNGSink{
		dir:     dir,
		encoder: png.Encoder{CompressionLevel: png.BestSpeed},
		stored:  make(map[int]bool),
	}, nil
}

func (s *PNGSink) Store(ctx context.Context, index int, canvas image.Image) (entity.FrameArtifact, error) {
	if err := ctx.Err(); err != nil {
		return entity.FrameArtifact{}, err
	}
	if index < 0 {
		return entity.FrameArtifact{}, fmt.Errorf("negative frame index %d", index)
	}
	if s.stored[index] {
		return entity.FrameArtifact{}, fmt.Errorf("frame %d already stored", index)
	}

	name := Name(index)
	path := filepath.Join(s.dir, name)
	if err := s.write(path, canvas); err != nil {
		return entity.FrameArtifact{}, fmt.Errorf("store frame %d: %w", index, err)
	}
	s.stored[index] = true

	return entity.FrameArtifact{Index: index, Name: name, Path: path}, nil
}

func (s *PNGSink) write(path string, img image.Image) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	err = s.encoder.Encode(w, img)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
	}
	return err
}

// Artifacts lists the artifacts on disk in natural name order.
func (s *PNGSink) Artifacts() ([]entity.FrameArtifact, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, namePrefix+"*"+nameSuffix))
	if err != nil {
		return nil, fmt.Errorf("glob frames: %w", err)
	}

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Sort(natural.StringSlice(names))

	out := make([]entity.FrameArtifact, 0, len(names))
	for _, name := range names {
		idx, err := parseIndex(name)
		if err != nil {
			return nil, err
		}
		out = append(out, entity.FrameArtifact{Index: idx, Name: name, Path: filepath.Join(s.dir, name)})
	}
	return out, nil
}

func parseIndex(name string) (int, error) {
	digits := strings.TrimSuffix(strings.TrimPrefix(name, namePrefix), nameSuffix)
	idx, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("artifact %q: %w", name, err)
	}
	return idx, nil
}
