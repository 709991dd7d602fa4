package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sunzc-sunny/RDAnnotator/internal/cli"
	"github.com/sunzc-sunny/RDAnnotator/internal/config"
	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
	"github.com/sunzc-sunny/RDAnnotator/internal/route"
)

var routeOutFlag string

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Sort images into route buckets from their color check artifacts",
	Long: `Route reads the color check artifact of every image and prints the
colorable, not colorable and ambiguous buckets. With --out, each bucket is
written as a list of keys (colorable.txt, not_colorable.txt,
ambiguous.txt). Images without a color check artifact are reported as
unrouted. No model call is made.`,
	Args: cobra.NoArgs,
	RunE: runRoute,
}

func init() {
	routeCmd.Flags().StringVarP(&routeOutFlag, "out", "o", "", "Directory to write the bucket lists to")
}

func runRoute(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd, config.Needs{Images: true})
	if err != nil {
		return err
	}
	items, err := a.items()
	if err != nil {
		return err
	}

	var (
		buckets  route.Buckets
		unrouted int
	)
	for _, item := range items {
		verdict, err := a.ledger.Read(ctx, item.Key, ledger.StageColorCheck)
		if errors.Is(err, ledger.ErrNotFound) {
			unrouted++
			continue
		}
		if err != nil {
			return err
		}
		buckets.Add(item.Key, route.Classify(verdict))
	}

	if routeOutFlag != "" {
		if err := writeBuckets(routeOutFlag, &buckets); err != nil {
			return err
		}
	}
	cli.PrintReport(cmd.OutOrStdout(), "Route buckets", []cli.Row{
		{Label: "Images", Value: len(items)},
		{Label: "Colorable", Value: len(buckets.Colorable)},
		{Label: "Not colorable", Value: len(buckets.NotColorable)},
		{Label: "Ambiguous", Value: len(buckets.Ambiguous)},
		{Label: "Unrouted", Value: unrouted},
	})
	return nil
}

// writeBuckets writes one key list per route.
func writeBuckets(dir string, b *route.Buckets) error {
	lists := map[route.Route][]string{
		route.Colorable:    b.Colorable,
		route.NotColorable: b.NotColorable,
		route.Ambiguous:    b.Ambiguous,
	}
	for r, list := range lists {
		if err := writeKeyList(filepath.Join(dir, r.String()+".txt"), list); err != nil {
			return err
		}
	}
	return nil
}

// writeKeyList writes keys one per line.
func writeKeyList(path string, keys []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create list dir: %w", err)
	}
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}
