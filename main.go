package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vidgen/api"
	"vidgen/caption"
	"vidgen/config"
	"vidgen/effect"
	"vidgen/engine"
	"vidgen/ffmpeg"
	"vidgen/logging"
	"vidgen/speech"
	"vidgen/task"

	"github.com/davecgh/go-spew/spew"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
	cfg        *config.Config
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run executes the CLI and returns the process exit code. Errors are printed here because
// they can occur before logging is initialised.
func run(args []string, stderr io.Writer) int {
	root := rootCmd()
	root.SetArgs(args)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vidgen",
		Short:         "Assemble narrated, captioned videos from task files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is fine.
			_ = godotenv.Load()

			var err error
			cfg, err = config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			logging.Init(cfg.LogLevel, cfg.LogJSON)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./vidgen_config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(renderCmd(), serveCmd())
	return root
}

// newController builds the render pipeline on top of the ffmpeg runner.
func newController(cfg *config.Config, logger zerolog.Logger) (*engine.Controller, error) {
	runner, err := ffmpeg.NewRunner(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize ffmpeg runner: %w", err)
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	backend, err := speech.Builtin().Build(cfg.TTSBackend, cfg, speech.Deps{HTTPClient: client, Silence: runner})
	if err != nil {
		return nil, err
	}

	return engine.NewController(cfg, engine.Deps{
		Exec:       runner,
		Speech:     speech.NewService(backend, runner, logger),
		Captions:   caption.NewRenderer(runner, caption.BuiltinSpecials(cfg.CountdownSFX), logger),
		Effects:    effect.Builtin(),
		HTTPClient: client,
	}, logger)
}

func renderCmd() *cobra.Command {
	var (
		batchMode string
		outputDir string
		workers   int
		dump      bool
	)
	cmd := &cobra.Command{
		Use:   "render <task-file>...",
		Short: "Render task files in order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchMode == "" {
				batchMode = cfg.BatchMode
			}
			mode, err := engine.ParseBatchMode(batchMode)
			if err != nil {
				return err
			}
			if outputDir != "" {
				cfg.OutputDir = outputDir
			}
			if workers > 0 {
				cfg.SegmentWorkers = workers
			}

			var tasks []*task.Task
			for _, path := range args {
				parsed, err := task.ParseFile(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				tasks = append(tasks, parsed...)
			}
			if dump {
				spew.Fdump(os.Stderr, tasks)
			}

			ctrl, err := newController(cfg, log.Logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sum, runErr := ctrl.RunBatch(ctx, tasks, mode)
			printSummary(cmd, sum)
			if runErr != nil {
				return runErr
			}
			if len(sum.Failed) > 0 {
				return fmt.Errorf("%d of %d tasks failed", len(sum.Failed), len(tasks))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&batchMode, "batch-mode", "", "abort or continue after a failed task (default from BATCH_MODE)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for finished videos (default from OUTPUT_DIR)")
	cmd.Flags().IntVar(&workers, "workers", 0, "segments assembled in parallel (default from SEGMENT_WORKERS)")
	cmd.Flags().BoolVar(&dump, "dump", false, "print the parsed tasks before rendering")
	return cmd
}

func printSummary(cmd *cobra.Command, sum engine.RunSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "succeeded: %d\n", sum.Succeeded)
	for _, p := range sum.Outputs {
		fmt.Fprintf(out, "  %s\n", p)
	}
	if len(sum.Failed) > 0 {
		fmt.Fprintf(out, "failed: %d\n", len(sum.Failed))
		for _, f := range sum.Failed {
			fmt.Fprintf(out, "  %s (%s) at %s: %v\n", f.TaskID, f.Title, f.Stage, f.Err)
		}
	}
	if len(sum.Skipped) > 0 {
		fmt.Fprintf(out, "skipped: %d\n", len(sum.Skipped))
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := newController(cfg, log.Logger)
			if err != nil {
				return err
			}
			taskManager, err := task.NewManager(cfg, ctrl, log.Logger)
			if err != nil {
				return fmt.Errorf("initialize task manager: %w", err)
			}

			router := api.SetupRouter(taskManager, cfg, log.Logger)
			srv := &http.Server{
				Addr:    ":" + cfg.Port,
				Handler: router,
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			taskManager.Start(ctx)

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("port", cfg.Port).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("listen: %w", err)
			case <-ctx.Done():
			}

			stop()
			log.Info().Msg("shutting down gracefully, press Ctrl+C again to force")

			// In-flight requests get five seconds to finish.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			log.Info().Msg("server exiting")
			return nil
		},
	}
}
