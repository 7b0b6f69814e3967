package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/spwatcher/spwatcher/internal/control"
	"github.com/spwatcher/spwatcher/internal/core/config"
	redisclient "github.com/spwatcher/spwatcher/internal/infra/redis"
	"github.com/spwatcher/spwatcher/internal/infra/storage/postgres"
	"github.com/spwatcher/spwatcher/internal/scan/tweak"
)

var (
	registerScanSecret string
	registerSpendPub   string
	registerNumLabels  uint32
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new scan identity",
	Long: `Stores a scan identity (scan secret, spend public key, label count) and
queues a rescan of all indexed history so the identity's past payments
are detected. A running watcher picks the identity up for live blocks on
its next restart and queues a catch-up rescan for the blocks indexed
between registration and that restart.`,
	Run: runRegister,
}

func init() {
	registerCmd.Flags().StringVar(&registerScanSecret, "scan-secret", "", "32-byte scan secret, hex (required)")
	registerCmd.Flags().StringVar(&registerSpendPub, "spend-pubkey", "", "33-byte compressed spend public key, hex (required)")
	registerCmd.Flags().Uint32Var(&registerNumLabels, "labels", 0, "number of labels to pre-derive")
	_ = registerCmd.MarkFlagRequired("scan-secret")
	_ = registerCmd.MarkFlagRequired("spend-pubkey")
	rootCmd.AddCommand(registerCmd)
}

func runRegister(cmd *cobra.Command, args []string) {
	rec, err := control.ParseIdentity(control.IdentityRequest{
		ScanSecret:  registerScanSecret,
		SpendPubKey: registerSpendPub,
		NumLabels:   registerNumLabels,
	})
	if err != nil {
		fmt.Printf("Invalid identity: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	// Building the runtime form validates the key material end to end.
	if _, err := tweak.NewIdentity(rec); err != nil {
		fmt.Printf("Invalid identity: %v\n", err)
		os.Exit(1)
	}

	identityRepo := postgres.NewIdentityRepo(db)
	id, err := identityRepo.Save(ctx, rec)
	if err != nil {
		slog.Error("Failed to save identity", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Registered identity %d with %d labels\n", id, registerNumLabels)

	cursorRepo := postgres.NewCursorRepo(db)
	cursor, err := cursorRepo.Get(ctx)
	if err != nil {
		slog.Error("Failed to read watermark", "error", err)
		os.Exit(1)
	}
	if cursor == nil {
		fmt.Println("No blocks indexed yet, nothing to rescan")
		return
	}

	if cfg.Redis.URL == "" {
		fmt.Println("Redis not configured; rescan history manually or restart with redis enabled")
		return
	}
	redisClient, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = redisClient.Close()
	}()

	task := redisclient.Task{IdentityID: id, Start: 0, End: cursor.Height}
	if err := redisClient.PushTask(ctx, task); err != nil {
		slog.Error("Failed to queue rescan", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Queued rescan of heights 0-%d for identity %d\n", cursor.Height, id)
}
