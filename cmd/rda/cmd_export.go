package main

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sunzc-sunny/RDAnnotator/internal/awsboot"
	"github.com/sunzc-sunny/RDAnnotator/internal/cli"
	"github.com/sunzc-sunny/RDAnnotator/internal/config"
	"github.com/sunzc-sunny/RDAnnotator/internal/export"
	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
	"github.com/sunzc-sunny/RDAnnotator/internal/logging"
	"github.com/sunzc-sunny/RDAnnotator/internal/s3util"
)

var (
	exportOutFlag    string
	exportUploadFlag bool
	exportExpiryFlag time.Duration
	exportLevelFlag  int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Bundle every stage artifact and info file into one ZIP",
	Long: `Export writes <stage>/<key>.txt for every artifact in the ledger, plus
the color and noncolor info files, into a Zstandard-compressed ZIP. With
--upload the bundle is copied to the configured S3 bucket and a
pre-signed download URL is printed.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutFlag, "out", "o", "dataset.zip", "Output ZIP file")
	exportCmd.Flags().BoolVar(&exportUploadFlag, "upload", false, "Upload the bundle to s3_bucket and print a download URL")
	exportCmd.Flags().DurationVar(&exportExpiryFlag, "url-expiry", time.Hour, "Lifetime of the pre-signed download URL")
	exportCmd.Flags().IntVar(&exportLevelFlag, "level", export.DefaultLevel, "Zstandard compression level")
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd, config.Needs{})
	if err != nil {
		return err
	}
	src, ok := a.ledger.(export.Source)
	if !ok {
		return fmt.Errorf("ledger %T cannot list artifacts", a.ledger)
	}

	sum, err := export.WriteFile(ctx, exportOutFlag, export.Options{
		Source: src,
		Stages: ledger.AllStages,
		InfoDirs: map[string]string{
			"color_info":    a.cfg.ColorInfoDir,
			"noncolor_info": a.cfg.NoncolorInfoDir,
		},
		Level:  exportLevelFlag,
		Logger: logging.Component("export"),
	})
	if err != nil {
		return err
	}

	rows := []cli.Row{
		{Label: "Artifacts", Value: sum.Entries - sum.Info},
		{Label: "Info files", Value: sum.Info},
		{Label: "Empty skipped", Value: sum.Skipped},
		{Label: "Output", Value: exportOutFlag},
	}
	for _, s := range ledger.AllStages {
		rows = append(rows, cli.Row{Label: "  " + string(s), Value: sum.PerStage[s]})
	}

	if exportUploadFlag {
		url, key, err := a.uploadBundle(cmd, exportOutFlag)
		if err != nil {
			return err
		}
		rows = append(rows, cli.Row{Label: "S3 key", Value: key}, cli.Row{Label: "Download URL", Value: url})
	}
	cli.PrintReport(cmd.OutOrStdout(), "Dataset export", rows)
	return nil
}

// uploadBundle copies the bundle to exports/<run id>/<file> in the
// configured bucket and returns a pre-signed GET URL for it.
func (a *app) uploadBundle(cmd *cobra.Command, localPath string) (string, string, error) {
	if a.cfg.S3Bucket == "" {
		return "", "", errors.New("--upload requires s3_bucket")
	}
	ctx := cmd.Context()
	if a.clients == nil {
		var err error
		if a.clients, err = awsboot.InitAWS(ctx); err != nil {
			return "", "", err
		}
	}
	key := path.Join(a.cfg.S3Prefix, "exports", a.runID, filepath.Base(localPath))
	if err := s3util.UploadFile(ctx, a.clients.S3, a.cfg.S3Bucket, key, localPath, "application/zip"); err != nil {
		return "", "", err
	}
	url, err := s3util.GeneratePresignedURL(ctx, a.clients.Presigner, a.cfg.S3Bucket, key, exportExpiryFlag)
	if err != nil {
		return "", "", err
	}
	return url, key, nil
}
