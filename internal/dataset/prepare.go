package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sunzc-sunny/RDAnnotator/internal/filehandler"
)

// Preparer writes the color and noncolor info files for a set of images.
// Images are independent, so they are processed by a bounded pool.
type Preparer struct {
	ImageDir        string
	AnnotationDir   string
	ColorInfoDir    string
	NoncolorInfoDir string
	Classifier      Classifier
	Workers         int
	Logger          zerolog.Logger
}

// PrepareSummary counts the outcome of a Prepare call.
type PrepareSummary struct {
	Written int
	Skipped int
	Failed  int
}

// Prepare builds info files for keys. Existing files are kept. A failure on
// one image is logged and counted; it does not stop the others.
func (p *Preparer) Prepare(ctx context.Context, keys []string) (PrepareSummary, error) {
	if p.ColorInfoDir == "" && p.NoncolorInfoDir == "" {
		return PrepareSummary{}, errors.New("no info output directory configured")
	}
	if p.ColorInfoDir != "" && p.Classifier == nil {
		return PrepareSummary{}, errors.New("color info requires a classifier")
	}
	for _, dir := range []string{p.ColorInfoDir, p.NoncolorInfoDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return PrepareSummary{}, fmt.Errorf("create info dir: %w", err)
		}
	}

	var (
		mu  sync.Mutex
		sum PrepareSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.Workers))
	for _, key := range keys {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			written, err := p.prepareOne(gctx, key)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				sum.Failed++
				p.Logger.Error().Err(err).Str("item", key).Msg("Failed to build info files")
			case written:
				sum.Written++
			default:
				sum.Skipped++
			}
			return nil
		})
	}
	err := g.Wait()
	p.Logger.Info().
		Int("written", sum.Written).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Msg("Info files prepared")
	return sum, err
}

func (p *Preparer) prepareOne(ctx context.Context, key string) (bool, error) {
	colorPath := infoPath(p.ColorInfoDir, key)
	noncolorPath := infoPath(p.NoncolorInfoDir, key)
	if exists(colorPath) && exists(noncolorPath) {
		return false, nil
	}

	boxes, err := ReadAnnotationFile(filepath.Join(p.AnnotationDir, key+".txt"))
	if err != nil {
		return false, err
	}
	imgPath, err := filehandler.FindImage(p.ImageDir, key)
	if err != nil {
		return false, err
	}
	img, err := filehandler.DecodeImage(imgPath)
	if err != nil {
		return false, err
	}
	bounds := img.Bounds()

	if noncolorPath != "" && !exists(noncolorPath) {
		objs := NoncolorObjects(boxes, bounds.Dx(), bounds.Dy())
		if err := os.WriteFile(noncolorPath, []byte(RenderInfo(objs)), 0644); err != nil {
			return false, fmt.Errorf("write noncolor info: %w", err)
		}
	}
	if colorPath != "" && !exists(colorPath) {
		objs, err := ColorObjects(ctx, img, boxes, p.Classifier)
		if err != nil {
			return false, err
		}
		if err := os.WriteFile(colorPath, []byte(RenderInfo(objs)), 0644); err != nil {
			return false, fmt.Errorf("write color info: %w", err)
		}
	}
	p.Logger.Debug().Str("item", key).Int("boxes", len(boxes)).Msg("Info files written")
	return true, nil
}

// infoPath returns "" when dir is unset so the file is treated as present.
func infoPath(dir, key string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, key+".txt")
}

func exists(path string) bool {
	if path == "" {
		return true
	}
	_, err := os.Stat(path)
	return err == nil
}

// Assessment is the filter verdict for one image.
type Assessment struct {
	Key      string
	Category Category
	Objects  int
	Capture  *filehandler.CaptureInfo
}

// Assess categorizes the image at imagePath using its annotation boxes.
func Assess(imagePath string, boxes []Box) (Assessment, error) {
	img, err := filehandler.DecodeImage(imagePath)
	if err != nil {
		return Assessment{}, err
	}
	a := Assessment{
		Key:      filepath.Base(imagePath[:len(imagePath)-len(filepath.Ext(imagePath))]),
		Category: Categorize(filehandler.AverageColor(img), boxes),
		Objects:  countObjects(boxes),
	}
	if info, err := filehandler.ExtractCaptureInfo(imagePath); err == nil {
		a.Capture = info
	}
	return a, nil
}
