package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lattice-labs/bmde-go/internal/envelope"
	"github.com/lattice-labs/bmde-go/internal/library"
	"github.com/lattice-labs/bmde-go/internal/platform/env"
	"github.com/lattice-labs/bmde-go/internal/provenance"
)

type cli struct {
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger

	libraryPath string
	tool        string
	verbose     bool

	// newEnvelope is replaced in tests.
	newEnvelope func() (*envelope.Envelope, error)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{
		stdout: stdout,
		stderr: stderr,
		newEnvelope: func() (*envelope.Envelope, error) {
			return envelope.New(envelope.ConfigFromEnv())
		},
	}

	root := &cobra.Command{
		Use:           "bmde",
		Short:         "Create, edit, export and verify BMDE provenance records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if c.verbose {
				level = slog.LevelDebug
			}
			c.logger = slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: level}))
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&c.libraryPath, "library", env.String("BMDE_LIBRARY", "bmde-library.db"), "path of the design library database")
	root.PersistentFlags().StringVar(&c.tool, "tool", env.String("BMDE_TOOL", "bmde"), "tool identity recorded on each operation")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		c.checksumCmd(),
		c.diffCmd(),
		c.applyCmd(),
		c.createCmd(),
		c.deriveCmd(),
		c.editCmd(),
		c.listCmd(),
		c.showCmd(),
		c.exportCmd(),
		c.importCmd(),
		c.verifyCmd(),
	)

	return root
}

func (c *cli) openLibrary() (*library.Store, error) {
	store, err := library.Open(c.libraryPath)
	if err != nil {
		return nil, fmt.Errorf("open library %s: %w", c.libraryPath, err)
	}
	return store, nil
}

// readInput reads a file, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseDetails reads operation details given as YAML or JSON.
func parseDetails(s string) (provenance.Details, error) {
	if strings.TrimSpace(s) == "" {
		return provenance.Details{}, nil
	}
	var out map[string]any
	if err := yaml.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("parse details: %w", err)
	}
	if out == nil {
		return provenance.Details{}, nil
	}
	return provenance.Details(out), nil
}
