// Command rda-proxy serves an OpenAI-compatible endpoint in front of an
// Azure OpenAI deployment or a Gemini model, so the pipeline's OpenAI
// backend can reach either.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sunzc-sunny/RDAnnotator/internal/logging"
	"github.com/sunzc-sunny/RDAnnotator/internal/metrics"
	"github.com/sunzc-sunny/RDAnnotator/internal/proxy"
)

var (
	modeFlag       string
	targetFlag     string
	apiVersionFlag string
	modelFlag      string
	addrFlag       string
	timeoutFlag    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "rda-proxy",
	Short: "OpenAI-compatible proxy for Azure OpenAI or Gemini",
	Long: `rda-proxy listens for OpenAI chat completion requests.

In openai mode, /v1/<path> is forwarded to <target>/<path> with the
api-version query parameter and the api-key header. In gemini mode, chat
completions are translated to Gemini generateContent calls and back.
The upstream key is read from RDA_PROXY_API_KEY.

Examples:
  rda-proxy --mode openai --target https://res.openai.azure.com/openai/deployments/gpt-4o
  rda-proxy --mode gemini --model gemini-2.5-pro --addr :8001`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runProxy,
}

func init() {
	rootCmd.Flags().StringVar(&modeFlag, "mode", "", "Shim: openai or gemini (default from RDA_PROXY_MODE, else openai)")
	rootCmd.Flags().StringVar(&targetFlag, "target", "", "Upstream base URL")
	rootCmd.Flags().StringVar(&apiVersionFlag, "api-version", "", "Azure api-version (default "+proxy.DefaultAPIVersion+")")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model (default "+proxy.DefaultGeminiModel+")")
	rootCmd.Flags().StringVar(&addrFlag, "addr", ":8000", "Listen address")
	rootCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Upstream timeout (0 = shim default)")
}

func main() {
	logging.Init()
	metrics.ConfigureFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("Proxy failed")
		os.Exit(1)
	}
}

func runProxy(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	initStart := time.Now()

	s, err := proxy.SettingsFromEnv()
	if err != nil {
		return err
	}
	set := func(dst *string, flag, v string) {
		if cmd.Flags().Changed(flag) {
			*dst = v
		}
	}
	set(&s.Mode, "mode", modeFlag)
	set(&s.Target, "target", targetFlag)
	set(&s.APIVersion, "api-version", apiVersionFlag)
	set(&s.Model, "model", modelFlag)
	if cmd.Flags().Changed("timeout") {
		s.Timeout = timeoutFlag
	}

	handler, err := proxy.NewHandler(ctx, s, logging.Component("proxy"))
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              addrFlag,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logging.NewStartupLogger("rda-proxy").
		Backend("upstream", s.Target).
		Config("mode", s.Mode).
		Config("addr", addrFlag).
		InitDuration(time.Since(initStart)).
		Log()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", addrFlag, err)
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down proxy")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
