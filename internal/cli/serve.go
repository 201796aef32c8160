package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/menta2k/photo-album/internal/logging"
	"github.com/menta2k/photo-album/pkg/auth"
	"github.com/menta2k/photo-album/pkg/geometry"
	"github.com/menta2k/photo-album/pkg/library"
	"github.com/menta2k/photo-album/pkg/metrics"
	"github.com/menta2k/photo-album/pkg/processing"
	"github.com/menta2k/photo-album/pkg/server"
	"github.com/menta2k/photo-album/pkg/storage"
	"github.com/menta2k/photo-album/pkg/suggest"
)

func (c *CLI) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the album API, the crop and suggestion endpoints, stored photo
files and Prometheus metrics. Album routes are enabled when at least one
token is configured under auth.tokens.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := logging.FromContext(ctx)

			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			proc := processing.NewProcessorWithConfig(cfg.ProcessorConfig())
			tcfg, err := cfg.TransformerConfig()
			if err != nil {
				return err
			}
			transformer := geometry.NewWithConfig(proc, tcfg)

			reg := metrics.NewRegistry()
			m, err := metrics.New(reg)
			if err != nil {
				return err
			}
			transformer.SetObserver(m)

			suggester, _, err := newSuggester(ctx, cfg, cfg.Suggest.Backend, proc, logger)
			if err != nil {
				return err
			}
			aspect, err := suggest.ParseAspect(cfg.Suggest.Aspect)
			if err != nil {
				return err
			}

			blobs, err := storage.NewLocalStore(cfg.Storage.Root, cfg.Server.BaseURL)
			if err != nil {
				return err
			}
			store, closeStore, err := newStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeStore(); err != nil {
					logger.Warn("failed to close state store", "err", err)
				}
			}()

			opts := server.Options{
				Transformer:    transformer,
				Processor:      proc,
				Suggester:      suggester,
				DefaultAspect:  aspect,
				Files:          blobs.Handler(),
				Metrics:        m,
				Gatherer:       reg,
				Logger:         logger,
				MaxUploadBytes: cfg.Server.MaxUploadBytes,
			}
			if accounts := cfg.Accounts(); len(accounts) > 0 {
				authn, err := auth.NewStaticTokens(accounts...)
				if err != nil {
					return err
				}
				opts.Auth = authn
				opts.Library = library.New(store, blobs, transformer, proc, library.Options{Logger: logger})
			} else {
				logger.Warn("no auth.tokens configured, album routes are disabled")
			}

			logger.Info("starting server", "version", version, "storage", blobs.Root(),
				"persist", cfg.Persist.Backend, "suggest", cfg.Suggest.Backend)
			srv := server.New(opts)
			if err := srv.ListenAndServe(ctx, cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout); err != nil {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
