package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/hubstore/internal/config"
)

// Error codes for validate-config output.
const (
	ErrCodeConfigUnreadable = "E_CONFIG_UNREADABLE"
	ErrCodeConfigInvalid    = "E_CONFIG_INVALID"
)

// ConfigValidation is the result of validate-config.
type ConfigValidation struct {
	Path  string `json:"path"`
	Valid bool   `json:"valid"`
}

// NewValidateConfigCommand creates the validate-config command.
func NewValidateConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config <file>",
		Short: "Check a config file against the schema",
		Long: `Validate a YAML config file without opening any database.

Unknown keys, wrong types and out-of-range values are reported with the
schema error text.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateConfig(rootOpts, args[0], cmd)
		},
	}
}

func runValidateConfig(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		if outErr := formatter.Error(ErrCodeConfigUnreadable, err.Error(), nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitCommandError, "failed to read config", err)
	}
	formatter.VerboseLog("Validating %s (%d bytes)", path, len(data))

	if err := config.Validate(data); err != nil {
		if outErr := formatter.Error(ErrCodeConfigInvalid, err.Error(), map[string]string{"path": path}); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "config is invalid", err)
	}

	if formatter.JSON() {
		return formatter.Success(ConfigValidation{Path: path, Valid: true})
	}
	return formatter.Success(fmt.Sprintf("✓ %s is valid", path))
}
