package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/spf13/cobra"

	"github.com/spwatcher/spwatcher/internal/core/config"
	"github.com/spwatcher/spwatcher/internal/infra/storage/postgres"
)

var resetCursorCmd = &cobra.Command{
	Use:   "reset-cursor [height] [hash]",
	Short: "Roll the index back to a known-good block",
	Long: `Removes payments, tweak records and blocks above the given height and
resets the watermark to it. Use after a reorg deeper than the configured
bound left the index on a stale branch; the next connected block must
build on the given hash.`,
	Args: cobra.ExactArgs(2),
	Run:  runResetCursor,
}

func init() {
	rootCmd.AddCommand(resetCursorCmd)
}

func runResetCursor(cmd *cobra.Command, args []string) {
	height, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Invalid height: %v\n", err)
		os.Exit(1)
	}
	hash, err := chainhash.NewHashFromStr(args[1])
	if err != nil {
		fmt.Printf("Invalid block hash: %v\n", err)
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

	uow := postgres.NewUnitOfWork(db)
	removed, err := uow.RollbackAbove(ctx, height)
	if err != nil {
		slog.Error("Failed to roll back index", "error", err)
		os.Exit(1)
	}

	cursorRepo := postgres.NewCursorRepo(db)
	if err := cursorRepo.Rollback(ctx, height, *hash); err != nil {
		slog.Error("Failed to reset cursor", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Reset watermark to block %d (%s), removed %d payments\n", height, hash, removed)
}
