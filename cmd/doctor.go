package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/castellan-dev/castellan/internal/config"
	"github.com/castellan-dev/castellan/internal/store/pg"
	"github.com/castellan-dev/castellan/internal/upgrade"
)

// doctorCmd runs a handful of fast, local sanity checks an operator would
// otherwise only discover by failing to start the daemon: config parses,
// the storage backend opens, and (in managed mode) a bare connection to
// Postgres succeeds.
func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and storage connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ok := true

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Printf("[FAIL] config: %v\n", err)
				return err
			}
			fmt.Printf("[ OK ] config loaded (mode=%s)\n", cfg.Database.Mode)

			if cfg.Engine.APIKey == "" {
				fmt.Println("[WARN] CASTELLAN_ENGINE_API_KEY is not set")
			} else {
				fmt.Println("[ OK ] engine API key present")
			}

			stores, err := buildStores(cfg)
			if err != nil {
				fmt.Printf("[FAIL] storage: %v\n", err)
				ok = false
			} else {
				fmt.Println("[ OK ] storage backend opened")
				if _, err := stores.Agents.List(context.Background()); err != nil {
					fmt.Printf("[FAIL] storage: agent list: %v\n", err)
					ok = false
				} else {
					fmt.Println("[ OK ] storage backend readable")
				}
			}

			if cfg.Database.IsManaged() {
				db, err := pg.OpenDB(cfg.Database.PostgresDSN)
				if err != nil {
					fmt.Printf("[FAIL] schema: %v\n", err)
					ok = false
				} else {
					status, err := upgrade.Check(context.Background(), db)
					db.Close()
					switch {
					case err != nil:
						fmt.Printf("[FAIL] schema: %v\n", err)
						ok = false
					case status.Compatible():
						fmt.Printf("[ OK ] schema v%d\n", status.Current)
					default:
						fmt.Printf("[FAIL] schema: %s\n", status.Advice())
						ok = false
					}
				}
			}

			for name, enabled := range map[string]bool{
				"discord":  cfg.Channels.Discord.Enabled,
				"telegram": cfg.Channels.Telegram.Enabled,
				"http":     cfg.Channels.HTTP.Enabled,
				"cowork":   cfg.Channels.Cowork.Enabled,
			} {
				if enabled {
					fmt.Printf("[ OK ] channel %s enabled\n", name)
				}
			}

			if !ok {
				os.Exit(1)
			}
			return nil
		},
	}
}
