// Package awsboot holds the shared start-up wiring of the commands: AWS
// clients, the configured ledger backend and the optional run store. Each
// command's setup is a short composition of these helpers.
package awsboot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sunzc-sunny/RDAnnotator/internal/config"
	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
	"github.com/sunzc-sunny/RDAnnotator/internal/logging"
	"github.com/sunzc-sunny/RDAnnotator/internal/store"
)

// Clients holds the AWS SDK clients used across commands.
type Clients struct {
	Config    aws.Config
	S3        *s3.Client
	Presigner *s3.PresignClient
	Dynamo    *dynamodb.Client
	SSM       *ssm.Client
}

// NeedsAWS reports whether cfg selects any AWS-backed component.
func NeedsAWS(cfg *config.Config) bool {
	return cfg.Ledger == config.LedgerS3 || cfg.RunTable != ""
}

// InitAWS loads the default AWS config and creates the common clients.
func InitAWS(ctx context.Context) (*Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	s3Client := s3.NewFromConfig(cfg)
	return &Clients{
		Config:    cfg,
		S3:        s3Client,
		Presigner: s3.NewPresignClient(s3Client),
		Dynamo:    dynamodb.NewFromConfig(cfg),
		SSM:       ssm.NewFromConfig(cfg),
	}, nil
}

// NewLedger creates the ledger cfg selects. clients may be nil for the
// filesystem ledger.
func NewLedger(cfg *config.Config, clients *Clients, logger zerolog.Logger) (ledger.Ledger, error) {
	switch cfg.Ledger {
	case config.LedgerFS:
		return ledger.NewFileLedger(cfg.LedgerDirs(), logger), nil
	case config.LedgerS3:
		if clients == nil || clients.S3 == nil {
			return nil, errors.New("s3 ledger requires AWS clients")
		}
		return ledger.NewS3Ledger(clients.S3, cfg.S3Bucket, cfg.S3Prefix, logger), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger)
	}
}

// LedgerTarget describes the ledger location for startup logging.
func LedgerTarget(cfg *config.Config) string {
	if cfg.Ledger == config.LedgerS3 {
		target := "s3://" + cfg.S3Bucket
		if cfg.S3Prefix != "" {
			target += "/" + cfg.S3Prefix
		}
		return target
	}
	return cfg.WorkDir
}

// NewRunStore creates the DynamoDB run store when a run table is
// configured. Returns nil (with a debug log) otherwise.
func NewRunStore(cfg *config.Config, clients *Clients, logger zerolog.Logger) (*store.DynamoStore, error) {
	if cfg.RunTable == "" {
		log.Debug().Msg("Run table not set, run records disabled")
		return nil, nil
	}
	if clients == nil || clients.Dynamo == nil {
		return nil, errors.New("run store requires AWS clients")
	}
	return store.NewDynamoStore(clients.Dynamo, cfg.RunTable, logger), nil
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
