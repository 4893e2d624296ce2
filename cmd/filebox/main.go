// Command filebox serves per-user file sandboxes over HTTP and WebDAV.
//
// Usage:
//
//	filebox serve [--config filebox.yaml] [--root ./shared]
//	filebox useradd [--config filebox.yaml] [--password pw] <username>
//	filebox passwd -p <password> [--cost 10]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"filebox/internal/auth"
	"filebox/internal/config"
	"filebox/internal/httpserver"
	"filebox/internal/logging"
	"filebox/internal/sandbox"
	"filebox/internal/staging"
	"filebox/internal/users"
)

var Version = "0.1.0-dev"

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := createApp(os.Stdin, os.Stdout).Run(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, "filebox:", err)
		var ec cli.ExitCoder
		if errors.As(err, &ec) {
			return ec.ExitCode()
		}
		return 1
	}
	return 0
}

func createApp(stdin io.Reader, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "filebox",
		Usage:   "personal file manager with per-user sandboxes",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file (yaml, json or toml)",
				Sources: cli.EnvVars("FILEBOX_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			useraddCommand(stdin, stdout),
			passwdCommand(stdout),
		},
		DefaultCommand: "serve",
		Writer:         stdout,
		// exit codes are mapped in run
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	var opts []config.Option
	if root := cmd.String("root"); root != "" {
		opts = append(opts, config.WithValue("storage.root", root))
	}
	return config.Load(cmd.String("config"), opts...)
}

// openUsers opens the configured credential store.
func openUsers(cfg *config.Config) (*users.Service, users.Store, error) {
	path := cfg.Users.Path
	if path == "" {
		path = users.DefaultPath(cfg.Users.Backend, cfg.Storage.StateDir)
	}
	store, err := users.Open(cfg.Users.Backend, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open users (%s): %w", cfg.Users.Backend, err)
	}
	svc, err := users.NewService(store, cfg.Users.BcryptCost)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return svc, store, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the web server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Usage: "storage root holding the user sandboxes"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, closer := logging.New(cfg.Logging)
	defer closer.Close()
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Storage.Root, 0o755); err != nil {
		return fmt.Errorf("mkdir root: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.StateDir, 0o700); err != nil {
		return fmt.Errorf("mkdir state: %w", err)
	}

	stage, err := staging.New(cfg.Storage.StateDir)
	if err != nil {
		return err
	}
	svc, store, err := openUsers(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var secret []byte
	if cfg.Server.SessionSecret != "" {
		secret = []byte(cfg.Server.SessionSecret)
	} else {
		logger.Warn("server.session_secret is not set; sessions will not survive a restart")
	}
	sess, err := auth.NewFilesystemSessions(filepath.Join(cfg.Storage.StateDir, "sessions"), secret)
	if err != nil {
		return err
	}

	srv, err := httpserver.New(httpserver.Options{
		Config:   *cfg,
		Users:    svc,
		Sessions: sess,
		Sandboxes: &sandbox.Manager{
			Root:     cfg.Storage.Root,
			SeedFile: cfg.Storage.SeedFile,
			SeedText: cfg.Storage.SeedText,
			Log:      logger,
		},
		Stage: stage,
		Log:   logger,
	})
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	hs := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("filebox listening",
			"addr", "http://"+cfg.Addr(),
			"root", cfg.Storage.Root,
			"users", cfg.Users.Backend,
			"webdav", cfg.Features.WebDAV,
		)
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
