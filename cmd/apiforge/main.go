package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/apiforge/internal/auth"
	"github.com/PentesterFlow/apiforge/internal/logger"
	"github.com/PentesterFlow/apiforge/internal/shutdown"
	"github.com/PentesterFlow/apiforge/pkg/apiforge"
)

var (
	version = "0.1.0"

	// Global flags
	configFile string
	verbose    bool
	debug      bool
	statePath  string
	noState    bool

	// Analysis flags
	kind            string
	workers         int
	maxPages        int
	maxDepth        int
	timeout         int
	rateLimit       float64
	includePatterns []string
	excludePatterns []string
	followExternal  bool
	noProbeSpecs    bool
	noHints         bool
	render          bool
	browserPool     int
	userAgent       string
	headers         []string
	maxFiles        int

	// Auth flags
	authType     string
	token        string
	username     string
	password     string
	apiKeyHeader string
	apiKey       string
	clientID     string
	clientSecret string
	tokenURL     string
	scopes       []string

	// Output flags
	outputFile   string
	outputFormat string
	emitTools    bool
	generateDir  string

	// Performance presets
	quickMode    bool
	thoroughMode bool

	// Display flags
	noProgress bool

	// Tool flags
	baseURL  string
	toolArgs []string
	addr     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "apiforge",
		Short: "apiforge - API discovery and tool synthesis",
		Long: `apiforge - Discover the HTTP API behind a website, source repository or document.

Builds a catalogue of endpoints with inferred parameters and categories, turns it
into invocable tool definitions, and generates a ready-to-build MCP tool server.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "Session database (default ~/.apiforge/sessions.db)")
	rootCmd.PersistentFlags().BoolVar(&noState, "no-state", false, "Do not persist sessions")

	// Auth flags apply to analysis and to live calls
	rootCmd.PersistentFlags().StringVar(&authType, "auth-type", "", "Authentication type (none, bearer, basic, apikey, oauth)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token")
	rootCmd.PersistentFlags().StringVarP(&username, "username", "u", "", "Username for basic authentication")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "Password for basic authentication")
	rootCmd.PersistentFlags().StringVar(&apiKeyHeader, "api-key-header", "X-API-Key", "API key header name")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key value")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "OAuth client id")
	rootCmd.PersistentFlags().StringVar(&clientSecret, "client-secret", "", "OAuth client secret")
	rootCmd.PersistentFlags().StringVar(&tokenURL, "token-url", "", "OAuth token endpoint")
	rootCmd.PersistentFlags().StringSliceVar(&scopes, "scope", nil, "OAuth scopes")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", nil, "Extra request header (Name: value)")

	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newToolsCmd())
	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig builds the configuration from the preset, the config file and
// any flags the user set, in that order.
func loadConfig(cmd *cobra.Command) (*apiforge.Config, error) {
	var config *apiforge.Config
	switch {
	case configFile != "":
		fileConfig, err := apiforge.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = fileConfig
	case quickMode:
		config = apiforge.QuickConfig()
	case thoroughMode:
		config = apiforge.ThoroughConfig()
	default:
		config = apiforge.DefaultConfig()
	}

	flags := cmd.Flags()
	if flags.Changed("workers") {
		config.Workers = workers
	}
	if flags.Changed("max-pages") {
		config.MaxPages = maxPages
	}
	if flags.Changed("max-depth") {
		config.MaxDepth = maxDepth
	}
	if flags.Changed("timeout") {
		config.Timeout = time.Duration(timeout) * time.Second
	}
	if flags.Changed("rate-limit") {
		config.RateLimit.RequestsPerSecond = rateLimit
	}
	if flags.Changed("max-files") {
		config.Repository.MaxFiles = maxFiles
	}
	if flags.Changed("browser-pool") {
		config.Browser.PoolSize = browserPool
	}
	if flags.Changed("user-agent") {
		config.UserAgent = userAgent
	}
	if flags.Changed("format") {
		config.Output.Format = outputFormat
	}
	if render {
		config.Render = true
	}
	if noProbeSpecs {
		config.ProbeSpecs = false
	}
	if noHints {
		config.ReadHints = false
	}
	if followExternal {
		config.Scope.FollowExternal = true
	}
	config.Scope.IncludePatterns = append(config.Scope.IncludePatterns, includePatterns...)
	config.Scope.ExcludePatterns = append(config.Scope.ExcludePatterns, excludePatterns...)

	extra, err := parseHeaders(headers)
	if err != nil {
		return nil, err
	}
	if len(extra) > 0 && config.CustomHeaders == nil {
		config.CustomHeaders = make(map[string]string)
	}
	for k, v := range extra {
		config.CustomHeaders[k] = v
	}

	if creds, ok := credentialsFromFlags(); ok {
		config.Auth = creds
	}

	switch {
	case noState:
		config.State.Enabled = false
	case statePath != "":
		config.State = apiforge.StateConfig{Enabled: true, Backend: apiforge.BackendBolt, Path: statePath}
	case !config.State.Enabled:
		config.State = apiforge.StateConfig{Enabled: true, Backend: apiforge.BackendBolt, Path: apiforge.DefaultStatePath()}
	}

	config.Verbose = config.Verbose || verbose
	config.Debug = config.Debug || debug
	return config, config.Validate()
}

func credentialsFromFlags() (auth.Credentials, bool) {
	switch auth.Type(authType) {
	case "":
		return auth.Credentials{}, false
	case auth.TypeBearer:
		return auth.Credentials{Type: auth.TypeBearer, Token: token}, true
	case auth.TypeBasic:
		return auth.Credentials{Type: auth.TypeBasic, Username: username, Password: password}, true
	case auth.TypeAPIKey:
		return auth.Credentials{Type: auth.TypeAPIKey, HeaderName: apiKeyHeader, APIKey: apiKey}, true
	case auth.TypeOAuth:
		return auth.Credentials{
			Type: auth.TypeOAuth,
			OAuth: &auth.OAuthConfig{
				ClientID:     clientID,
				ClientSecret: clientSecret,
				TokenURL:     tokenURL,
				Scopes:       scopes,
			},
		}, true
	default:
		return auth.Credentials{Type: auth.Type(authType)}, true
	}
}

// setupLogger installs the global logger. Without --verbose only warnings
// reach the terminal so they do not tear the progress bar.
func setupLogger(config *apiforge.Config) *logger.Logger {
	cfg := logger.DefaultConfig()
	switch {
	case config.Debug:
		cfg.Level = logger.DebugLevel
	case config.Verbose:
		cfg.Level = logger.InfoLevel
	default:
		cfg.Level = logger.WarnLevel
	}
	l := logger.New(cfg)
	logger.SetGlobal(l)
	return l
}

// newEngine creates the engine and a shutdown handler that closes it.
// Callers must call Shutdown on the handler when done.
func newEngine(config *apiforge.Config) (*apiforge.Engine, *shutdown.Handler, error) {
	log := setupLogger(config)

	e, err := apiforge.New(apiforge.WithConfig(config), apiforge.WithLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create engine: %w", err)
	}

	sdCfg := shutdown.DefaultConfig()
	sdCfg.Logger = log
	h := shutdown.New(sdCfg)
	h.Register("engine", func(ctx context.Context) error {
		return e.Close()
	})
	h.Listen()
	return e, h, nil
}
