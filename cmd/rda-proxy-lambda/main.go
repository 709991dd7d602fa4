// Command rda-proxy-lambda runs the proxy shim behind an API Gateway HTTP
// API or a Lambda function URL. The shim is configured from RDA_PROXY_*
// variables; the upstream key may instead come from the SSM parameter
// named by RDA_API_KEY_SSM_PARAM.
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/sunzc-sunny/RDAnnotator/internal/auth"
	"github.com/sunzc-sunny/RDAnnotator/internal/awsboot"
	"github.com/sunzc-sunny/RDAnnotator/internal/logging"
	"github.com/sunzc-sunny/RDAnnotator/internal/metrics"
	"github.com/sunzc-sunny/RDAnnotator/internal/proxy"
)

func main() {
	initStart := time.Now()
	logging.Init()
	metrics.ConfigureFromEnv()
	ctx := context.Background()

	s, err := proxy.SettingsFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid proxy settings")
	}

	param := os.Getenv("RDA_API_KEY_SSM_PARAM")
	if s.APIKey == "" && param != "" {
		clients, err := awsboot.InitAWS(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load AWS config")
		}
		s.APIKey, err = auth.LoadFromSSM(ctx, clients.SSM, param)
		if err != nil {
			log.Fatal().Err(err).Str("param", param).Msg("Failed to load upstream API key")
		}
	}

	handler, err := proxy.NewHandler(ctx, s, logging.Component("proxy"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create proxy handler")
	}

	awsboot.StartupLog("rda-proxy-lambda", initStart).
		Backend("upstream", s.Target).
		Config("mode", s.Mode).
		Feature("ssmKey", param != "").
		Log()

	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}
