package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/limn/internal/manifest"
)

// ManifestIssue is one manifest validation failure.
type ManifestIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ModuleInfo describes one validated manifest module.
type ModuleInfo struct {
	Name    string   `json:"name"`
	Entry   string   `json:"entry"`
	CSS     []string `json:"css,omitempty"`
	Preload bool     `json:"preload,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool            `json:"valid"`
	Modules []ModuleInfo    `json:"modules,omitempty"`
	Errors  []ManifestIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <manifest-path>",
		Short: "Validate a CUE asset manifest",
		Long: `Validate a CUE asset manifest against the schema.

The path may be a directory of CUE files (loaded as one instance) or a
single .cue file. On success, lists the modules the manifest maps.

Exit codes:
  0 - Manifest valid
  1 - Manifest invalid (schema or evaluation errors)
  2 - Command error (path not found, no CUE files, loader failure)

Examples:
  limn validate ./assets
  limn validate ./assets/manifest.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	m, err := loadManifest(path, formatter)
	if err != nil {
		var loadErr *manifest.LoadError
		if errors.As(err, &loadErr) {
			return outputValidationErrors(formatter, []ManifestIssue{issueFrom(loadErr)}, exitCodeFor(loadErr))
		}
		return outputValidationErrors(formatter, []ManifestIssue{{Code: manifest.ErrCodeLoadFailed, Message: err.Error()}}, ExitCommandError)
	}

	result := ValidationResult{Valid: true}
	for _, name := range m.Names() {
		a := m.Modules[name]
		result.Modules = append(result.Modules, ModuleInfo{
			Name:    name,
			Entry:   a.Entry,
			CSS:     a.CSS,
			Preload: a.Preload,
		})
	}
	return outputValidateSuccess(formatter, result)
}

// loadManifest loads a manifest from a directory or a single file.
func loadManifest(path string, formatter *OutputFormatter) (*manifest.Manifest, error) {
	info, err := os.Stat(path)
	if err == nil && !info.IsDir() {
		formatter.VerboseLog("Loading manifest file %s", path)
		return manifest.LoadFile(path)
	}
	formatter.VerboseLog("Loading manifest directory %s", path)
	return manifest.Load(path)
}

// issueFrom converts a manifest load error into a reportable issue.
func issueFrom(err *manifest.LoadError) ManifestIssue {
	issue := ManifestIssue{Code: err.Code, Message: err.Message}
	if err.Pos.IsValid() {
		issue.File = err.Pos.Filename()
		issue.Line = err.Pos.Line()
	}
	return issue
}

// exitCodeFor maps load error codes to exit codes: bad paths and loader
// failures are command errors, bad manifests are validation failures.
func exitCodeFor(err *manifest.LoadError) int {
	switch err.Code {
	case manifest.ErrCodeNotFound, manifest.ErrCodeNoFiles, manifest.ErrCodeLoadFailed:
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Manifest valid: %d module(s)\n", len(result.Modules))
	if len(result.Modules) > 0 {
		fmt.Fprintln(formatter.Writer)
	}
	for _, mod := range result.Modules {
		notes := ""
		if len(mod.CSS) > 0 {
			notes += fmt.Sprintf(" (+%d css)", len(mod.CSS))
		}
		if mod.Preload {
			notes += " [preload]"
		}
		fmt.Fprintf(formatter.Writer, "  %-18s %s%s\n", mod.Name, mod.Entry, notes)
	}
	return nil
}

// outputValidationErrors outputs validation errors and returns the
// command's ExitError.
func outputValidationErrors(formatter *OutputFormatter, issues []ManifestIssue, code int) error {
	if formatter.Format == "json" {
		result := ValidationResult{Valid: false, Errors: issues}
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(code, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Manifest invalid")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		if issue.File != "" {
			fmt.Fprintf(formatter.Writer, "  %s:%d\n", issue.File, issue.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}
	return NewExitError(code, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}
