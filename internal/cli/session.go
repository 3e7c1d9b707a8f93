package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/hubstore/internal/config"
	"github.com/roach88/hubstore/internal/node"
	"github.com/roach88/hubstore/internal/protocol"
)

// loadConfig reads --config (or the defaults) and applies --db.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return cfg, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}
	return cfg, nil
}

// newLogger writes text logs at the configured level; --verbose forces debug.
func newLogger(cfg config.Config, opts *RootOptions, w io.Writer) *slog.Logger {
	level := cfg.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// withNode opens the node for one command and closes it afterwards.
func withNode(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, n *node.Node) error) (err error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, opts, cmd.ErrOrStderr())
	ctx := commandContext(cmd)

	logger.Debug("opening node", "db", cfg.DBPath, "trie_db", cfg.TriePath())
	n, err := node.Open(ctx, cfg, node.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := n.Close(ctx); closeErr != nil {
			logger.Error("error closing node", "error", closeErr)
			if err == nil {
				err = WrapExitError(ExitCommandError, "failed to close database", closeErr)
			}
		}
	}()
	return fn(ctx, n)
}

// errorCode names err for CLI output: the hub error code when there is one.
func errorCode(err error) string {
	if code := protocol.CodeOf(err); code != "" {
		return string(code)
	}
	return "E_COMMAND"
}

// commandError reports err through the formatter and converts it into an
// exit error. Hub errors are failures; anything else is a command error.
func commandError(f *OutputFormatter, message string, err error) error {
	code := ExitCommandError
	if protocol.CodeOf(err) != "" {
		code = ExitFailure
	}
	if outErr := f.Error(errorCode(err), fmt.Sprintf("%s: %v", message, err), nil); outErr != nil {
		return outErr
	}
	return WrapExitError(code, message, err)
}
