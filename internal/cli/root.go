package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// ValidFormats lists the accepted values for --format.
var ValidFormats = []string{"text", "json"}

// RootOptions holds the global flags every subcommand sees.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// isValidFormat reports whether format is one of ValidFormats.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// NewRootCommand builds the limn command tree. Global flags are validated
// once in the persistent pre-run so subcommands can trust them.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "limn",
		Short: "limn - server rendering with client hydration",
		Long: `Render registered pages to HTML with a reactive side channel,
journal the chunk streams, and verify that replays are deterministic.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	for _, sub := range []*cobra.Command{
		NewPagesCommand(opts),
		NewRenderCommand(opts),
		NewReplayCommand(opts),
		NewTraceCommand(opts),
		NewValidateCommand(opts),
	} {
		cmd.AddCommand(sub)
	}

	return cmd
}
