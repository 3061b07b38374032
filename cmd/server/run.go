package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SAISURYACHARAN89/codesync/internal/client"
	"github.com/SAISURYACHARAN89/codesync/internal/domain/execution"
)

var languageByExt = map[string]string{
	".py":   "python",
	".cpp":  "cpp",
	".cc":   "cpp",
	".cxx":  "cpp",
	".java": "java",
	".js":   "javascript",
	".mjs":  "javascript",
}

type runOptions struct {
	server    string
	language  string
	stdinFile string
	sessionID string
	asJSON    bool
	timeout   time.Duration
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Execute a source file on a codesync server",
		Long: "Send FILE to the server's execute endpoint and print the program output. " +
			"The language is inferred from the file extension unless --language is given. " +
			"Use - to read the source from stdin.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(cmd, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.server, "server", serverURL(), "server base URL (CODESYNC_URL)")
	flags.StringVarP(&opts.language, "language", "l", "", "language name or alias")
	flags.StringVar(&opts.stdinFile, "stdin", "", "file whose contents are passed as program input")
	flags.StringVar(&opts.sessionID, "session", "", "also broadcast the result to this session")
	flags.BoolVar(&opts.asJSON, "json", false, "print the raw result as JSON")
	flags.DurationVar(&opts.timeout, "timeout", time.Minute, "request timeout")

	return cmd
}

func runFile(cmd *cobra.Command, opts *runOptions, path string) error {
	language := opts.language
	if language == "" {
		var ok bool
		language, ok = languageByExt[strings.ToLower(filepath.Ext(path))]
		if !ok {
			return fmt.Errorf("cannot infer language of %q, use --language", path)
		}
	}

	source, err := readInput(cmd, path)
	if err != nil {
		return err
	}
	var stdin []byte
	if opts.stdinFile != "" {
		if stdin, err = os.ReadFile(opts.stdinFile); err != nil {
			return fmt.Errorf("read stdin file: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	c := client.New(client.Options{BaseURL: opts.server, Timeout: opts.timeout, Retries: 1})
	result, err := c.Execute(ctx, client.ExecuteRequest{
		Language:  language,
		Source:    string(source),
		Stdin:     string(stdin),
		SessionID: opts.sessionID,
	})
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), result.Stdout)
		fmt.Fprint(cmd.ErrOrStderr(), result.Stderr)
	}

	if result.Status != execution.StatusSuccess {
		return fmt.Errorf("%s (exit code %d)", result.Status, result.ExitCode)
	}
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	return data, nil
}
