package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/limn/internal/harness"
)

// PageInfo describes one registered page.
type PageInfo struct {
	Name string `json:"name"`
	Doc  string `json:"doc,omitempty"`
}

// NewPagesCommand creates the pages command.
func NewPagesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pages",
		Short: "List registered pages",
		Long: `List every page the render and replay commands can drive, with a
one-line description of what it exercises.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPages(rootOpts, cmd)
		},
	}
	return cmd
}

func runPages(opts *RootOptions, cmd *cobra.Command) error {
	names := harness.PageNames()
	infos := make([]PageInfo, 0, len(names))
	for _, name := range names {
		def, err := harness.LookupPage(name)
		if err != nil {
			return WrapExitError(ExitCommandError, "registry changed underfoot", err)
		}
		infos = append(infos, PageInfo{Name: def.Name, Doc: def.Doc})
	}

	if opts.Format == "json" {
		response := CLIResponse{Status: "ok", Data: infos}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(response)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Registered pages: %d\n\n", len(infos))
	for _, info := range infos {
		fmt.Fprintf(w, "  %-18s %s\n", info.Name, info.Doc)
	}
	return nil
}
