package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/awsboot"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/config"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

// CLI flags
var (
	envFileFlag    string
	addrFlag       string
	modelFlag      string
	streamModeFlag string
	stageDelayFlag time.Duration
	tokenFlag      string
)

var rootCmd = &cobra.Command{
	Use:   "scan-server",
	Short: "Local scan backend for exercising the tastebuddy client",
	Long: `Scan Server runs a local stand-in for the scan backend. It accepts image
uploads, walks each job through the eight analysis stages and reports
progress over SSE, WebSocket or the polling endpoint.

With GEMINI_API_KEY (or GEMINI_API_KEY_PARAM naming an SSM parameter) set,
the image is analyzed by Gemini; otherwise a fixed sample menu is returned.
TASTEBUDDY_UPLOAD_BUCKET archives every validated image to S3.

Examples:
  scan-server
  scan-server --addr :9090 --stream websocket
  scan-server --stage-delay 50ms --token dev-secret`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVar(&envFileFlag, "env-file", ".env", "Optional dotenv file")
	rootCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (default from "+config.EnvServerAddr+")")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model to use (default from "+config.EnvGeminiModel+")")
	rootCmd.Flags().StringVar(&streamModeFlag, "stream", streamSSE, "Stream advertised on upload: sse, websocket or none")
	rootCmd.Flags().DurationVar(&stageDelayFlag, "stage-delay", 0, "Time spent in each stage (default from "+config.EnvStageDelay+")")
	rootCmd.Flags().StringVar(&tokenFlag, "token", "", "Require this bearer token on every request")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	start := time.Now()
	logging.Init()

	cfg, err := config.Load(envFileFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	sc := cfg.Server
	if addrFlag != "" {
		sc.Addr = addrFlag
	}
	if modelFlag != "" {
		sc.GeminiModel = modelFlag
	}
	if stageDelayFlag > 0 {
		sc.StageDelay = stageDelayFlag
	}
	mode := strings.ToLower(streamModeFlag)
	if mode != streamSSE && mode != streamWebSocket && mode != streamNone {
		log.Fatal().Str("stream", streamModeFlag).Msg("Unknown stream mode")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiKey, err := awsboot.GeminiKey(ctx, sc.GeminiAPIKey, sc.GeminiKeyParam)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get API key")
	}
	var analyzer Analyzer = fixtureAnalyzer{}
	if apiKey != "" {
		ga, err := newGeminiAnalyzer(ctx, apiKey, sc.GeminiModel)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Gemini client")
		}
		analyzer = ga
	}

	var archive Archiver
	if sc.UploadBucket != "" {
		awsCfg, err := awsboot.Config(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Upload archive needs AWS credentials")
		}
		archive = newS3Archiver(s3.NewFromConfig(awsCfg), sc.UploadBucket)
	}

	s := newServer(serverOptions{
		Analyzer:   analyzer,
		StageDelay: sc.StageDelay,
		StreamMode: mode,
		Token:      tokenFlag,
		Archive:    archive,
	})
	defer s.Close()

	srv := &http.Server{
		Addr:         sc.Addr,
		Handler:      withLogging(withCORS(s.routes())),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streams stay open for the life of a job
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logging.NewStartupLogger("scan-server").
		Version(version).
		Endpoint("listen", sc.Addr).
		Feature("gemini", apiKey != "").
		Feature("archive", archive != nil).
		Feature("auth", tokenFlag != "").
		Config("stream", mode).
		Config("stageDelay", sc.StageDelay.String()).
		Config("model", sc.GeminiModel).
		InitDuration(time.Since(start)).
		Log()
	fmt.Printf("\n  Scan server: http://localhost%s\n\n", displayAddr(sc.Addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return addr
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[i:]
	}
	return addr
}

// --- Middleware ---

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// withCORS allows browser clients served from localhost during development.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if isLocalOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLocalOrigin(origin string) bool {
	return strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1")
}
