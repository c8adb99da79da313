package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	httpclient "github.com/storekit/storesync/internal/client/api"
	"github.com/storekit/storesync/internal/client/cli"
	"github.com/storekit/storesync/internal/client/storage/boltdb"
	"github.com/storekit/storesync/internal/client/sync"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "Server base URL")
	dbPath := flag.String("db", "storesync-client.db", "Path to the local BoltDB file")
	tenantID := flag.String("tenant", "", "Store (tenant) id")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	if *tenantID == "" {
		*tenantID = os.Getenv("STORESYNC_TENANT")
	}
	if *tenantID == "" {
		fmt.Fprintln(os.Stderr, "Error: store id required (-tenant or STORESYNC_TENANT)")
		os.Exit(2)
	}

	if err := run(*server, *dbPath, *tenantID, *logLevel, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(server, dbPath, tenantID, logLevel, command string, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(logLevel)

	store, err := boltdb.New(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	token := os.Getenv("STORESYNC_TOKEN")
	apiClient := httpclient.NewClient(server, token)
	engine := sync.NewEngine(apiClient, store, tenantID, logger)
	commands := cli.New(engine, store, tenantID)

	switch command {
	case "product-add":
		return commands.RunProductAdd(ctx, args)
	case "product-list":
		return commands.RunProductList(ctx, args)
	case "sale-add":
		return commands.RunSaleAdd(ctx, args)
	case "sale-void":
		return commands.RunSaleVoid(ctx, args)
	case "stock-adjust":
		return commands.RunStockAdjust(ctx, args)
	case "drain":
		return commands.RunDrain(ctx, args)
	case "resolve":
		return commands.RunResolve(ctx, args)
	case "status":
		return commands.RunStatus(ctx, args)
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func printUsage() {
	fmt.Println("StoreSync POS client")
	fmt.Println()
	fmt.Println("Usage: storesync [flags] <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  product-add    Add a product to the catalog")
	fmt.Println("  product-list   List the local catalog")
	fmt.Println("  sale-add       Record a sale at the register")
	fmt.Println("  sale-void      Void a synced sale and restore stock")
	fmt.Println("  stock-adjust   Apply a signed stock delta")
	fmt.Println("  drain          Push the offline queue to the server")
	fmt.Println("  resolve        Resolve a version conflict")
	fmt.Println("  status         Show the offline queue state")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  STORESYNC_TENANT  Store id (alternative to -tenant)")
	fmt.Println("  STORESYNC_TOKEN   Bearer token for the server API")
}

func printVersion() {
	fmt.Printf("StoreSync Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
