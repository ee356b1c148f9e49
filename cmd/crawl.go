package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sablewing/modelgrab/internal/browser"
	"github.com/sablewing/modelgrab/internal/config"
	"github.com/sablewing/modelgrab/internal/crawler"
	"github.com/sablewing/modelgrab/internal/export"
	"github.com/sablewing/modelgrab/internal/observability"
	"github.com/sablewing/modelgrab/internal/render"
	"github.com/sablewing/modelgrab/internal/store"
)

// newCrawlCmd creates and configures the `crawl` command.
func newCrawlCmd() *cobra.Command {
	crawlCmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the configured model registry listings",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to viper keys so flags override file and env values.
			if err := viper.BindPFlag("browser.pool_size", cmd.Flags().Lookup("pool-size")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("pagination.max_pages", cmd.Flags().Lookup("max-pages")); err != nil {
				return err
			}
			if err := viper.BindPFlag("export.output_dir", cmd.Flags().Lookup("output")); err != nil {
				return err
			}
			return viper.BindPFlag("storage.enabled", cmd.Flags().Lookup("store"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := observability.GetLogger()
			defer observability.Sync()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			if len(cfg.Sites) == 0 {
				cfg.Sites = crawler.DefaultSites()
			}

			sites, err := crawler.BuildSites(cfg)
			if err != nil {
				return fmt.Errorf("failed to resolve site configuration: %w", err)
			}

			return runCrawl(ctx, cfg, sites, logger)
		},
	}

	crawlCmd.Flags().Int("pool-size", 4, "number of pooled browser sessions")
	crawlCmd.Flags().Bool("headless", true, "run browsers headless")
	crawlCmd.Flags().Int("max-pages", 100, "page limit per paginated listing")
	crawlCmd.Flags().StringP("output", "o", "", "directory for exported JSON files")
	crawlCmd.Flags().Bool("store", false, "persist results to PostgreSQL")

	return crawlCmd
}

func runCrawl(ctx context.Context, cfg *config.Config, sites []crawler.Site, logger *zap.Logger) error {
	launcher := browser.NewLauncher(ctx, browser.ChromeOptions{
		Headless:          cfg.Browser.Headless,
		Args:              cfg.Browser.Args,
		UserAgents:        cfg.Browser.UserAgents,
		NavigationTimeout: cfg.Render.NavigationTimeout,
	}, logger)
	defer launcher.Close()

	pool, err := browser.NewPool(ctx, browser.PoolOptions{
		Capacity:       cfg.Browser.PoolSize,
		AcquireTimeout: cfg.Browser.AcquireTimeout,
	}, launcher.NewSession, logger)
	if err != nil {
		return fmt.Errorf("failed to start session pool: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		pool.Shutdown(shutdownCtx)
	}()

	fetcher := render.NewFetcher(pool, cfg.Render.DefaultWait, logger)

	sink, err := export.NewWriter(cfg.Export.OutputDir, cfg.Export.Indent, logger)
	if err != nil {
		return err
	}

	var runStore crawler.RunStore
	if cfg.Storage.Enabled {
		dbPool, err := pgxpool.New(ctx, cfg.Storage.Postgres.DSN())
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer dbPool.Close()

		st, err := store.New(ctx, dbPool, logger)
		if err != nil {
			return err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			return err
		}
		runStore = st
	}

	c := crawler.New(fetcher, sink, runStore, *cfg, logger)
	results := c.Run(ctx, sites)

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			if errors.Is(res.Err, context.Canceled) {
				logger.Warn("Crawl aborted.", zap.String("site", res.Site))
				continue
			}
			logger.Error("Site finished with error.",
				zap.String("site", res.Site), zap.Error(res.Err))
			continue
		}
		logger.Info("Site finished.",
			zap.String("site", res.Site),
			zap.Int("pages", res.Pages),
			zap.Int("items", res.Items))
	}

	if failed == len(results) && len(results) > 0 {
		return fmt.Errorf("all %d site crawls failed", failed)
	}
	return nil
}
