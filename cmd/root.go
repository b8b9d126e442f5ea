package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"panplay/cache"
	"panplay/internal"
	"panplay/resolver"
	"panplay/utils"
)

var (
	cookie       string
	cookiesPath  string
	refreshToken string
	clientID     string
	clientSecret string
	proxyURL     string
	rateLimit    string
	quality      string
	quiet        bool
	debug        bool
	logLevel     string
	logFile      string
	config       *internal.Config
)

var rootCmd = &cobra.Command{
	Use:     "panplay",
	Short:   "Resolve Baidu Pan files into directly playable URLs",
	Version: "v1.0.0",
	Long: `panplay turns a file in a Baidu Pan account into a URL a media player can
open directly. It asks the streaming endpoint for an M3U8 playlist and falls
back to the file's download link, caching results per account.

Examples:
  panplay serve --port 5000
  panplay resolve --cookie "BDUSS=...; STOKEN=..." --path /videos/movie.mp4
  panplay resolve --cookies-file cookies.txt --fs-id 123456789 --quality AUTO_720
  panplay list /videos
  panplay batch paths.txt

Environment Variables:
  PANPLAY_COOKIE         Account cookie (BDUSS=...; STOKEN=...)
  PANPLAY_COOKIES_FILE   Path to a Netscape-format cookie file
  PANPLAY_REFRESH_TOKEN  Refresh token for access token refresh
  PANPLAY_CLIENT_ID      Application id used for token refresh
  PANPLAY_CLIENT_SECRET  Application secret used for token refresh
  PANPLAY_TIMEOUT        Upstream timeout in seconds
  PANPLAY_MAX_RETRIES    Attempts per upstream call
  PANPLAY_PROXY          Proxy URL
  PANPLAY_RATE_LIMIT     Upstream request rate (e.g., 10/s)`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfiguration(); err != nil {
			return fmt.Errorf("configuration error: %v", err)
		}

		if err := internal.InitLogger(config); err != nil {
			return fmt.Errorf("failed to initialize logger: %v", err)
		}
		internal.GetLogger().AddRedactor(internal.NewValueRedactor(config.ClientSecret, refreshToken))

		internal.LogDebug("Configuration loaded: timeout=%d, retries=%d, quality=%s, debug=%v, quiet=%v",
			config.DefaultTimeout, config.MaxRetries, config.DefaultQuality, config.EnableDebug, config.QuietMode)
		return nil
	},
}

func loadConfiguration() error {
	config = internal.DefaultConfig()
	config.LoadFromEnv()

	if cookie == "" {
		cookie = os.Getenv("PANPLAY_COOKIE")
	}

	if cookiesPath == "" {
		cookiesPath = os.Getenv("PANPLAY_COOKIES_FILE")
	}

	if refreshToken == "" {
		refreshToken = os.Getenv("PANPLAY_REFRESH_TOKEN")
	}

	if clientID != "" {
		config.ClientID = clientID
	}

	if clientSecret != "" {
		config.ClientSecret = clientSecret
	}

	if proxyURL != "" {
		config.ProxyURL = proxyURL
	}

	if rateLimit != "" {
		config.RateLimit = rateLimit
	}

	if quality != "" {
		config.DefaultQuality = quality
	}

	if debug {
		config.EnableDebug = true
		config.LogLevel = "debug"
	}

	if quiet {
		config.QuietMode = true
	}

	if logLevel != "" {
		config.LogLevel = logLevel
	}

	if logFile != "" {
		config.LogFile = logFile
	}

	if config.RateLimit != "" {
		if _, err := utils.ParseRequestRate(config.RateLimit); err != nil {
			return internal.NewValidationErrorWithValue("rate_limit", err.Error(), config.RateLimit).
				WithSuggestion("Use formats like 10/s, 600/m or 5000/h")
		}
	}

	return config.ValidateConfig()
}

// runtime holds the components every subcommand shares
type runtime struct {
	client   *utils.HTTPClient
	cache    *cache.TTLCache
	tokens   *resolver.TokenRegistry
	pipeline *resolver.Pipeline
}

// newRuntime builds the upstream client, cache and pipeline from config
func newRuntime(cfg *internal.Config) (*runtime, error) {
	limiter, err := utils.NewRequestRateLimiterFromString(cfg.RateLimit)
	if err != nil {
		return nil, err
	}

	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxRetries

	clientConfig := &utils.HTTPClientConfig{
		Timeout:     time.Duration(cfg.DefaultTimeout) * time.Second,
		ProxyURL:    cfg.ProxyURL,
		RetryConfig: retry,
	}
	// A nil *RequestRateLimiter must not become a non-nil interface
	if limiter != nil {
		clientConfig.Limiter = limiter
		internal.LogDebug("upstream requests limited to %.2f/s", limiter.Limit())
	}
	client := utils.NewHTTPClientWithConfig(clientConfig)

	endpoints := utils.DefaultEndpoints()
	store := cache.New(cache.WithDefaultTTL(time.Duration(cfg.CacheTTL) * time.Second))
	tokens := resolver.NewTokenRegistry(endpoints.OAuthToken, client.StdClient())

	return &runtime{
		client: client,
		cache:  store,
		tokens: tokens,
		pipeline: resolver.NewPipeline(resolver.PipelineConfig{
			Client:         client,
			Cache:          store,
			Tokens:         tokens,
			Endpoints:      endpoints,
			DefaultQuality: cfg.DefaultQuality,
		}),
	}, nil
}

// loadCredential builds the account credential from --cookie, the cookie
// file or the environment, in that order.
func loadCredential() (*internal.Credential, error) {
	header := strings.TrimSpace(cookie)
	if header == "" && cookiesPath != "" {
		internal.LogInfo("Loading cookies from file: %s", cookiesPath)
		loaded, err := resolver.LoadCookieFile(cookiesPath)
		if err != nil {
			return nil, err
		}
		header = loaded
	}

	cred, err := resolver.ParseCredential(header)
	if err != nil {
		return nil, err
	}
	cred.RefreshToken = refreshToken
	cred.ClientID = config.ClientID
	cred.ClientSecret = config.ClientSecret
	return cred, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			internal.LogInfo("Received signal %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

// printJSON writes v indented to w
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportError prints a structured failure with its suggestion
func reportError(err error) error {
	if perr, ok := internal.AsPanError(err); ok {
		internal.LogPanError(perr)
		if !config.QuietMode {
			fmt.Fprintf(os.Stderr, "Error: %s\n", perr.Message)
			if perr.Suggestion != "" {
				fmt.Fprintf(os.Stderr, "Suggestion: %s\n", perr.Suggestion)
			}
		}
		return fmt.Errorf("%s", perr.Type)
	}
	return err
}

func init() {
	config = internal.DefaultConfig()

	rootCmd.AddCommand(serveCmd, resolveCmd, listCmd, searchCmd, batchCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cookie, "cookie", "", "Account cookie header, e.g. \"BDUSS=...; STOKEN=...\" (env: PANPLAY_COOKIE)")
	flags.StringVarP(&cookiesPath, "cookies-file", "c", "", "Path to Netscape-format cookie file (env: PANPLAY_COOKIES_FILE)")
	flags.StringVar(&refreshToken, "refresh-token", "", "Refresh token used to obtain access tokens (env: PANPLAY_REFRESH_TOKEN)")
	flags.StringVar(&clientID, "client-id", "", "Application id for token refresh (env: PANPLAY_CLIENT_ID)")
	flags.StringVar(&clientSecret, "client-secret", "", "Application secret for token refresh (env: PANPLAY_CLIENT_SECRET)")
	flags.StringVar(&proxyURL, "proxy", "", "HTTP/SOCKS5 proxy URL (env: PANPLAY_PROXY)")
	flags.StringVarP(&rateLimit, "limit-rate", "r", "", "Upstream request rate, e.g. 10/s (env: PANPLAY_RATE_LIMIT)")
	flags.StringVar(&quality, "quality", "", fmt.Sprintf("Default stream quality (env: PANPLAY_DEFAULT_QUALITY) (default %s)", config.DefaultQuality))
	flags.BoolVarP(&quiet, "quiet", "q", false, "Suppress progress and summary output")

	// Logging flags
	flags.BoolVarP(&debug, "debug", "d", false, "Enable debug logging with file and line information (env: PANPLAY_DEBUG)")
	flags.StringVar(&logLevel, "log-level", "", "Set log level (debug, info, warn, error) (env: PANPLAY_LOG_LEVEL)")
	flags.StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr (env: PANPLAY_LOG_FILE)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
