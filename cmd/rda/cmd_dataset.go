package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sunzc-sunny/RDAnnotator/internal/cli"
	"github.com/sunzc-sunny/RDAnnotator/internal/config"
	"github.com/sunzc-sunny/RDAnnotator/internal/dataset"
	"github.com/sunzc-sunny/RDAnnotator/internal/logging"
)

var colorinfoCmd = &cobra.Command{
	Use:   "colorinfo",
	Short: "Build the color and noncolor object info files",
	Long: `Colorinfo reads the VisDrone annotation of every image and writes
<key>.txt to the color info and noncolor info directories. Colors come
from the classifier at classifier_url, or from the built-in HSV
classifier when none is configured. Existing files are kept.`,
	Args: cobra.NoArgs,
	RunE: runColorinfo,
}

var (
	filterOutFlag   string
	filterCleanFlag string
)

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Sort images into color, night, non-grounding and tiny-vehicle lists",
	Long: `Filter assesses every image by its average brightness and annotation
boxes. Night frames and images with fewer than two objects or mostly
tiny vehicles are not sent to the color branch. With --out, one key list
per category is written. With --clean-dir, the annotations of color
images are rewritten there without vehicles of 144 px or less.`,
	Args: cobra.NoArgs,
	RunE: runFilter,
}

func init() {
	filterCmd.Flags().StringVarP(&filterOutFlag, "out", "o", "", "Directory to write the category lists to")
	filterCmd.Flags().StringVar(&filterCleanFlag, "clean-dir", "", "Directory to write color-image annotations without tiny vehicles")
}

func runColorinfo(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd, config.Needs{Images: true, Annotations: true, ColorInfo: true, NoncolorInfo: true})
	if err != nil {
		return err
	}
	items, err := a.items()
	if err != nil {
		return err
	}

	var classifier dataset.Classifier = dataset.NewHSVClassifier()
	if a.cfg.ClassifierURL != "" {
		classifier = dataset.NewHTTPClassifier(a.cfg.ClassifierURL, a.cfg.RequestTimeout())
	}
	a.startupLog("rda colorinfo").
		Dir("annotations", a.cfg.AnnotationDir).
		Dir("colorInfo", a.cfg.ColorInfoDir).
		Dir("noncolorInfo", a.cfg.NoncolorInfoDir).
		Feature("httpClassifier", a.cfg.ClassifierURL != "").
		Log()

	p := &dataset.Preparer{
		ImageDir:        a.cfg.ImageDir,
		AnnotationDir:   a.cfg.AnnotationDir,
		ColorInfoDir:    a.cfg.ColorInfoDir,
		NoncolorInfoDir: a.cfg.NoncolorInfoDir,
		Classifier:      classifier,
		Workers:         a.cfg.Workers,
		Logger:          logging.Component("dataset"),
	}
	sum, err := p.Prepare(ctx, keys(items))
	if err != nil {
		return err
	}
	cli.PrintReport(cmd.OutOrStdout(), "Object info", []cli.Row{
		{Label: "Images", Value: len(items)},
		{Label: "Written", Value: sum.Written},
		{Label: "Already present", Value: sum.Skipped},
		{Label: "Failed", Value: sum.Failed},
		{Label: "Duration", Value: cli.FormatDurationShort(time.Since(a.start))},
	})
	return nil
}

func runFilter(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd, config.Needs{Images: true, Annotations: true})
	if err != nil {
		return err
	}
	items, err := a.items()
	if err != nil {
		return err
	}

	if filterCleanFlag != "" {
		if err := os.MkdirAll(filterCleanFlag, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", filterCleanFlag, err)
		}
	}

	lists := make(map[dataset.Category][]string)
	failed, dropped := 0, 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		boxes, err := dataset.ReadAnnotationFile(filepath.Join(a.cfg.AnnotationDir, item.Key+".txt"))
		if err != nil {
			log.Error().Err(err).Str("item", item.Key).Msg("Failed to read annotation")
			failed++
			continue
		}
		as, err := dataset.Assess(item.ImagePath, boxes)
		if err != nil {
			log.Error().Err(err).Str("item", item.Key).Msg("Failed to assess image")
			failed++
			continue
		}
		evt := log.Debug().Str("item", item.Key).Str("category", string(as.Category)).Int("objects", as.Objects)
		if as.Capture != nil {
			evt = evt.Str("capture", as.Capture.Summary())
		}
		evt.Msg("Image assessed")
		lists[as.Category] = append(lists[as.Category], item.Key)

		if filterCleanFlag != "" && as.Category == dataset.CategoryColor {
			kept := dataset.DropTinyVehicles(boxes)
			dropped += len(boxes) - len(kept)
			if err := dataset.WriteAnnotationFile(filepath.Join(filterCleanFlag, item.Key+".txt"), kept); err != nil {
				return err
			}
		}
	}

	categories := []dataset.Category{
		dataset.CategoryColor,
		dataset.CategoryNight,
		dataset.CategoryNonGrounding,
		dataset.CategoryTinyVehicles,
	}
	rows := []cli.Row{{Label: "Images", Value: len(items)}}
	for _, c := range categories {
		sort.Strings(lists[c])
		rows = append(rows, cli.Row{Label: string(c), Value: len(lists[c])})
		if filterOutFlag != "" {
			if err := writeKeyList(filepath.Join(filterOutFlag, string(c)+".txt"), lists[c]); err != nil {
				return fmt.Errorf("write %s list: %w", c, err)
			}
		}
	}
	rows = append(rows, cli.Row{Label: "Failed", Value: failed})
	if filterCleanFlag != "" {
		rows = append(rows, cli.Row{Label: "Tiny vehicles dropped", Value: dropped})
	}
	cli.PrintReport(cmd.OutOrStdout(), "Image filter", rows)
	return nil
}
