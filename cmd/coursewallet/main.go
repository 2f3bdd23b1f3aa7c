package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/learnmarket/coursewallet/internal/backend"
	"github.com/learnmarket/coursewallet/internal/callback"
	"github.com/learnmarket/coursewallet/internal/httpx"
	"github.com/learnmarket/coursewallet/internal/store/gormstore"
	"github.com/learnmarket/coursewallet/internal/wallet"
	"github.com/learnmarket/coursewallet/pkg/purchase"
)

const (
	flagAPIURL          = "api-url"
	flagDatabaseURL     = "database-url"
	flagCallbackURL     = "callback-url"
	flagListenAddr      = "listen-addr"
	flagAllowedOrigins  = "allowed-origins"
	configKeyAPIURL     = "api_url"
	configKeyDatabase   = "database_url"
	configKeyCallback   = "callback_url"
	configKeyListenAddr = "listen_addr"
	configKeyOrigins    = "allowed_origins"
	defaultAPIURL       = "https://api.learnmarket.example"
	defaultDatabaseURL  = "sqlite://coursewallet.db"
	defaultCallbackURL  = "http://localhost:8940/payment/callback"
	defaultListenAddr   = ":8940"
)

type runtimeConfig struct {
	APIURL         string
	DatabaseURL    string
	CallbackURL    string
	ListenAddr     string
	AllowedOrigins []string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "coursewallet: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "coursewallet",
		Short:         "Course marketplace wallet and purchase client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
	}

	cmd.PersistentFlags().String(flagAPIURL, defaultAPIURL, "Marketplace API base URL")
	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "Durable state database (sqlite path or postgres URL)")
	cmd.PersistentFlags().String(flagCallbackURL, defaultCallbackURL, "URL the payment gateway redirects back to")
	cmd.PersistentFlags().String(flagListenAddr, defaultListenAddr, "Callback server listen address")
	cmd.PersistentFlags().String(flagAllowedOrigins, "", "Comma-delimited CORS origins for the callback server")

	cmd.AddCommand(
		newLoginCommand(cfg),
		newLogoutCommand(cfg),
		newWalletCommand(cfg),
		newCoursesCommand(cfg),
		newBuyCommand(cfg),
		newDepositCommand(cfg),
		newTopupCommand(cfg),
		newVerifyCommand(cfg),
		newListenCommand(cfg),
	)

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyAPIURL:     "COURSEWALLET_API_URL",
		configKeyDatabase:   "COURSEWALLET_DATABASE_URL",
		configKeyCallback:   "COURSEWALLET_CALLBACK_URL",
		configKeyListenAddr: "COURSEWALLET_LISTEN_ADDR",
		configKeyOrigins:    "COURSEWALLET_ALLOWED_ORIGINS",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flags := map[string]string{
		configKeyAPIURL:     flagAPIURL,
		configKeyDatabase:   flagDatabaseURL,
		configKeyCallback:   flagCallbackURL,
		configKeyListenAddr: flagListenAddr,
		configKeyOrigins:    flagAllowedOrigins,
	}
	for key, flag := range flags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.APIURL = viper.GetString(configKeyAPIURL)
	cfg.DatabaseURL = viper.GetString(configKeyDatabase)
	cfg.CallbackURL = viper.GetString(configKeyCallback)
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	cfg.AllowedOrigins = splitOrigins(viper.GetString(configKeyOrigins))

	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.CallbackURL == "" {
		cfg.CallbackURL = defaultCallbackURL
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	return nil
}

func splitOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// app bundles the wired components for one command invocation.
type app struct {
	logger       *zap.Logger
	store        *gormstore.Store
	client       *backend.Client
	ledger       *wallet.Ledger
	orchestrator *purchase.Orchestrator
}

func newApp(ctx context.Context, cfg *runtimeConfig) (*app, func(), error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, nil, fmt.Errorf("logger init: %w", err)
	}

	gormDB, closeDB, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	cleanup := func() {
		_ = closeDB()
		_ = logger.Sync()
	}

	if err := prepareSchema(gormDB, driver); err != nil {
		cleanup()
		return nil, nil, err
	}

	store := gormstore.New(gormDB)

	transport := httpx.NewBreakerClient(
		httpx.New(httpx.DefaultConfig()),
		httpx.DefaultBreakerConfig("marketplace-api"),
		logger,
	)
	client, err := backend.New(backend.Config{
		BaseURL:     cfg.APIURL,
		CallbackURL: cfg.CallbackURL,
		HTTP:        transport,
		Tokens:      store.Tokens(),
		Logger:      logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	client.WithCourseCache(store.Courses())

	ledger, err := wallet.NewLedger(client,
		wallet.WithSnapshotStore(store.Snapshots()),
		wallet.WithLogger(logger),
	)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	orchestrator, err := purchase.NewOrchestrator(
		ledger, client, client, client, store.Intents(),
		purchase.WithOperationLogger(&zapOperationLogger{logger: logger}),
	)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return &app{
		logger:       logger,
		store:        store,
		client:       client,
		ledger:       ledger,
		orchestrator: orchestrator,
	}, cleanup, nil
}

// zapOperationLogger feeds saga operation logs into zap.
type zapOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger *zapOperationLogger) LogOperation(_ context.Context, entry purchase.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("outcome", string(entry.Outcome)),
	}
	if !entry.Course.IsZero() {
		fields = append(fields, zap.String("course_id", entry.Course.String()))
	}
	if entry.Token.String() != "" {
		fields = append(fields, zap.String("authority", entry.Token.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("saga operation", fields...)
		return
	}
	operationLogger.logger.Info("saga operation", fields...)
}

func newLoginCommand(cfg *runtimeConfig) *cobra.Command {
	var phone string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with a phone one-time code",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, cleanup, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := application.client.RequestOTP(cmd.Context(), phone); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "code sent to %s\nenter code: ", phone)
			reader := bufio.NewReader(cmd.InOrStdin())
			code, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("read code: %w", err)
			}
			if err := application.client.VerifyOTP(cmd.Context(), phone, strings.TrimSpace(code)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged in")
			return nil
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number to authenticate")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func newLogoutCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Drop the stored session, pending intent, and wallet snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, cleanup, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := application.store.ClearSession(cmd.Context()); err != nil {
				return err
			}
			application.ledger.Clear(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func newWalletCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "wallet",
		Short: "Show the wallet balance and transaction history",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, cleanup, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			snapshot, err := application.ledger.Fetch(cmd.Context())
			if err != nil {
				if cached, ok := application.ledger.Cached(cmd.Context()); ok {
					fmt.Fprintf(cmd.OutOrStdout(), "wallet unavailable; last known balance %d (fetched %s)\n",
						cached.Balance.Int64(), cached.FetchedAt.Format(time.RFC3339))
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "wallet unavailable; balance unknown")
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "balance: %d\n", snapshot.Balance.Int64())
			for _, transaction := range snapshot.Transactions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-10s %12d  %s\n",
					transaction.CreatedAt.Format(time.RFC3339),
					transaction.Type,
					transaction.Amount,
					transaction.Description,
				)
			}
			return nil
		},
	}
}

func newCoursesCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "courses",
		Short: "List purchasable courses",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, cleanup, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			courses, err := application.client.Courses(cmd.Context())
			if err != nil {
				return err
			}
			for _, course := range courses {
				marker := " "
				if course.IsEnrolled {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-24s %12d  %s\n", marker, course.ID, course.Price, course.Title)
			}
			return nil
		},
	}
}

func newBuyCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "buy <course-id>",
		Short: "Buy a course, or start a gateway top-up when the balance falls short",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			courseID, err := purchase.NewCourseID(args[0])
			if err != nil {
				return err
			}
			application, cleanup, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			outcome, err := application.orchestrator.Buy(cmd.Context(), courseID)
			printOutcome(cmd, outcome)
			return err
		},
	}
}

func newDepositCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Deposit directly into the wallet (no gateway)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			application, cleanup, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			newBalance, err := application.ledger.Deposit(cmd.Context(), amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deposit accepted, new balance: %d\n", newBalance.Int64())
			return nil
		},
	}
}

func newTopupCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "topup <amount>",
		Short: "Start a gateway top-up without a pending purchase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			application, cleanup, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			paymentURL, err := application.client.Initiate(cmd.Context(), amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "continue the payment at:\n%s\n", paymentURL)
			fmt.Fprintln(cmd.OutOrStdout(), "run `coursewallet listen` to receive the gateway redirect")
			return nil
		},
	}
}

func newVerifyCommand(cfg *runtimeConfig) *cobra.Command {
	var authority string
	var status string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a returned gateway deposit and resume any pending purchase",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := purchase.NewCorrelationToken(authority)
			if err != nil {
				return err
			}
			callbackStatus, err := purchase.ParseCallbackStatus(status)
			if err != nil {
				return err
			}
			application, cleanup, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			outcome, err := application.orchestrator.CompleteDeposit(cmd.Context(), token, callbackStatus)
			printOutcome(cmd, outcome)
			return err
		},
	}
	cmd.Flags().StringVar(&authority, "authority", "", "Correlation token from the gateway redirect")
	cmd.Flags().StringVar(&status, "status", "OK", "Gateway status flag from the redirect")
	_ = cmd.MarkFlagRequired("authority")
	return cmd
}

func newListenCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Serve the gateway callback endpoint and auto-resume purchases",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, cleanup, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			return callback.Run(ctx, callback.Config{
				ListenAddr:     cfg.ListenAddr,
				AllowedOrigins: cfg.AllowedOrigins,
			}, application.orchestrator, application.logger)
		},
	}
}

func printOutcome(cmd *cobra.Command, outcome purchase.Outcome) {
	fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", outcome.State, outcome.Message)
	if outcome.RedirectURL != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "continue the payment at:\n%s\n", outcome.RedirectURL)
		fmt.Fprintln(cmd.OutOrStdout(), "run `coursewallet listen` to receive the gateway redirect")
	}
	if outcome.BalanceKnown {
		fmt.Fprintf(cmd.OutOrStdout(), "balance: %d\n", outcome.NewBalance.Int64())
	}
}

func parseAmount(raw string) (purchase.Amount, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount must be an integer: %w", err)
	}
	return purchase.NewAmount(value)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = "coursewallet.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
