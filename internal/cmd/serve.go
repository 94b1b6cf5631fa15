package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"github.com/vanpelt/purrlog/internal/config"
	"github.com/vanpelt/purrlog/internal/handlers"
	"github.com/vanpelt/purrlog/internal/logger"
	"github.com/vanpelt/purrlog/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "🌐 Serve the HTML mirror with live reload",
	Long: `# 🌐 Serve

**Start the mirror server** over your Claude projects directory.

## 🔄 Synchronization

- Conversation shards (**\*.jsonl**) are polled for changes
- Changes are debounced, rate-limited, and rendered by the external tool
- Open pages detect fresh output through the **/api/version** signal

## 📁 Layout

One directory per project under the projects root, each holding shards
next to the rendered HTML artifacts.`,
	RunE: runServe,
}

var (
	configPath  string
	projectsDir string
	port        int
	dev         bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.purrlog.yaml)")
	serveCmd.Flags().StringVar(&projectsDir, "projects-dir", "", "Projects root (default ~/.claude/projects)")
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (default 8080)")
	serveCmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode with pretty log output")
}

func runServe(cmd *cobra.Command, args []string) error {
	logLevel := logger.GetLogLevelFromEnv(dev)
	logger.Configure(logLevel, dev)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("projects-dir") {
		cfg.ProjectsDir = projectsDir
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}

	if info, err := os.Stat(cfg.ProjectsDir); err != nil || !info.IsDir() {
		return fmt.Errorf("projects directory %s does not exist", cfg.ProjectsDir)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	detector := services.NewStalenessDetector(cfg.ProjectsDir)
	renderer := services.NewSubprocessRenderer(cfg.RendererCommand, cfg.RendererTimeout)
	regen := services.NewRegenerator(detector, renderer)
	scheduler := services.NewScheduler(regen, detector, services.SchedulerConfig{
		WatchInterval:    cfg.WatchInterval,
		DebounceWindow:   cfg.DebounceWindow,
		MinRegenInterval: cfg.MinRegenInterval,
	})
	index := services.NewSessionIndex(cfg.ProjectsDir)
	deletion := services.NewDeletionCoordinator(cfg.ProjectsDir)

	logsHandler := handlers.NewLogsHandler(scheduler, regen, detector, index, deletion)
	pagesHandler := handlers.NewPagesHandler(index)

	app := fiber.New(fiber.Config{
		AppName:               fmt.Sprintf("purrlog %s", GetVersion()),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	app.Get("/", pagesHandler.Index)
	app.Get("/api/check-update", logsHandler.CheckUpdate)
	app.Get("/api/version", logsHandler.Version)
	app.Get("/api/projects", logsHandler.Projects)
	app.Post("/api/refresh", logsHandler.Refresh)
	app.Post("/api/delete-session", logsHandler.DeleteSession)
	// Rendered artifacts are served straight off the filesystem so a
	// fresh artifact is visible without a restart
	app.Static("/", cfg.ProjectsDir, fiber.Static{Browse: false})

	// Serve immediately; the first full regeneration happens behind the
	// scenes and open pages converge via the version signal
	go scheduler.Bootstrap(ctx)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		logger.Infof("Serving %s at http://127.0.0.1:%d", cfg.ProjectsDir, cfg.Port)
		errChan <- app.Listen(fmt.Sprintf(":%d", cfg.Port))
	}()

	select {
	case err := <-errChan:
		scheduler.Stop()
		return err
	case <-sigChan:
		logger.Info("Shutting down")
		cancel()
		scheduler.Stop()
		return app.ShutdownWithTimeout(5 * time.Second)
	}
}
