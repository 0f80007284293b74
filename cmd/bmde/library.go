package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lattice-labs/bmde-go/internal/library"
	"github.com/lattice-labs/bmde-go/internal/platform/objectstore"
	"github.com/lattice-labs/bmde-go/internal/provenance"
)

type createFlags struct {
	design      string
	author      string
	description string
	details     string
}

func (f *createFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.design, "design", "", "design file (\"-\" reads stdin)")
	cmd.Flags().StringVar(&f.author, "author", os.Getenv("USER"), "author recorded on the record")
	cmd.Flags().StringVar(&f.description, "description", "", "free-text description")
	cmd.Flags().StringVar(&f.details, "details", "", "operation details as YAML or JSON")
	_ = cmd.MarkFlagRequired("design")
}

func (f *createFlags) input(cmd *cobra.Command, name, tool string) (library.CreateInput, error) {
	design, err := readInput(cmd, f.design)
	if err != nil {
		return library.CreateInput{}, err
	}
	details, err := parseDetails(f.details)
	if err != nil {
		return library.CreateInput{}, err
	}
	return library.CreateInput{
		Name:        name,
		Design:      design,
		Author:      f.author,
		Description: f.description,
		Tool:        tool,
		Details:     details,
	}, nil
}

func (c *cli) createCmd() *cobra.Command {
	var flags createFlags
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Add a new design to the library with a CREATE operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := flags.input(cmd, args[0], c.tool)
			if err != nil {
				return err
			}
			store, err := c.openLibrary()
			if err != nil {
				return err
			}
			defer store.Close()

			entry, err := store.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			c.logger.Debug("design created", "name", entry.Name, "metadata_id", entry.Record.ID)
			fmt.Fprintf(c.stdout, "%s %s\n", entry.Name, entry.Record.ID)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *cli) deriveCmd() *cobra.Command {
	var (
		flags  createFlags
		parent string
		code   string
	)
	cmd := &cobra.Command{
		Use:   "derive NAME",
		Short: "Add a design derived from another library design",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := flags.input(cmd, args[0], c.tool)
			if err != nil {
				return err
			}
			store, err := c.openLibrary()
			if err != nil {
				return err
			}
			defer store.Close()

			entry, err := store.Derive(cmd.Context(), library.DeriveInput{Parent: parent, Code: code, CreateInput: in})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "%s %s parent=%s\n", entry.Name, entry.Record.ID, entry.Record.Parent())
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&parent, "from", "", "name of the parent design")
	cmd.Flags().StringVar(&code, "op", "SPLIT", "operation code recorded on the new design")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func (c *cli) editCmd() *cobra.Command {
	var (
		designPath string
		code       string
		details    string
	)
	cmd := &cobra.Command{
		Use:   "edit NAME",
		Short: "Record one operation on a library design",
		Long: `Record one operation on a library design. With --design the design is
replaced and the change is stored; without it the operation is recorded
against the unchanged design.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := library.EditInput{Code: code, Tool: c.tool}
			if designPath != "" {
				design, err := readInput(cmd, designPath)
				if err != nil {
					return err
				}
				in.Design = &design
			}
			d, err := parseDetails(details)
			if err != nil {
				return err
			}
			in.Details = d

			store, err := c.openLibrary()
			if err != nil {
				return err
			}
			defer store.Close()

			entry, err := store.Edit(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "%s revision %d %s\n", entry.Name, len(entry.Record.Changelog), entry.Record.DesignChecksum)
			return nil
		},
	}
	cmd.Flags().StringVar(&designPath, "design", "", "new design file (\"-\" reads stdin)")
	cmd.Flags().StringVar(&code, "op", "", "operation code, e.g. INSERT or CODON_OPTIMIZE")
	cmd.Flags().StringVar(&details, "details", "", "operation details as YAML or JSON")
	_ = cmd.MarkFlagRequired("op")
	return cmd
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List library designs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openLibrary()
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tMETADATA ID\tOPS\tCHECKSUM\tPARENT")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Name, r.MetadataID, r.Operations, r.DesignChecksum, r.ParentMetadataID)
			}
			return tw.Flush()
		},
	}
}

func (c *cli) showCmd() *cobra.Command {
	var revisions bool
	cmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Print a design's metadata record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openLibrary()
			if err != nil {
				return err
			}
			defer store.Close()

			entry, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !revisions {
				blob, err := provenance.MarshalRecord(entry.Record)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.stdout, string(blob))
				return nil
			}
			history, err := provenance.ReconstructRevisions(entry.Record, entry.Design)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(c.stdout)
			enc.SetIndent("", "    ")
			return enc.Encode(history)
		},
	}
	cmd.Flags().BoolVar(&revisions, "revisions", false, "print the reconstructed revisions instead of the record")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	var (
		outDir string
		ext    string
		bucket bool
	)
	cmd := &cobra.Command{
		Use:   "export NAME",
		Short: "Write a design and its encrypted metadata sidecar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sealer, err := c.newEnvelope()
			if err != nil {
				return err
			}
			store, err := c.openLibrary()
			if err != nil {
				return err
			}
			defer store.Close()

			var put func(ctx context.Context, name string, data []byte) error
			if bucket {
				put, err = bucketWriter(cmd.Context())
			} else {
				put, err = dirWriter(outDir)
			}
			if err != nil {
				return err
			}

			exp, err := store.Export(cmd.Context(), args[0], ext, c.tool, sealer)
			if err != nil {
				return err
			}
			if err := put(cmd.Context(), exp.DesignFile, []byte(exp.Entry.Design)); err != nil {
				return err
			}
			if err := put(cmd.Context(), exp.MetadataFile, []byte(exp.Sidecar)); err != nil {
				return err
			}
			c.logger.Debug("design exported", "name", exp.Entry.Name, "metadata_id", exp.Entry.Record.ID, "bucket", bucket)
			fmt.Fprintf(c.stdout, "%s\n%s\n", exp.DesignFile, exp.MetadataFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "exported", "directory to write into")
	cmd.Flags().StringVar(&ext, "ext", ".gb", "design file extension")
	cmd.Flags().BoolVar(&bucket, "bucket", false, "upload to the BMDE_MINIO_* bucket instead of --out")
	return cmd
}

func dirWriter(dir string) (func(ctx context.Context, name string, data []byte) error, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return func(ctx context.Context, name string, data []byte) error {
		return os.WriteFile(filepath.Join(dir, name), data, 0o644)
	}, nil
}

func bucketWriter(ctx context.Context) (func(ctx context.Context, name string, data []byte) error, error) {
	cfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	client, err := objectstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := objectstore.EnsureBucket(ctx, client, cfg); err != nil {
		return nil, err
	}
	store, err := objectstore.NewStore(client, cfg)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, name string, data []byte) error {
		return store.Put(ctx, name, data, "text/plain")
	}, nil
}

func (c *cli) importCmd() *cobra.Command {
	var designPath, metadataPath string
	cmd := &cobra.Command{
		Use:   "import NAME",
		Short: "Verify an exported design and sidecar and add them to the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opener, err := c.newEnvelope()
			if err != nil {
				return err
			}
			design, err := readInput(cmd, designPath)
			if err != nil {
				return err
			}
			sealed, err := readInput(cmd, metadataPath)
			if err != nil {
				return err
			}
			rec, err := opener.OpenRecord(sealed)
			if err != nil {
				return err
			}

			store, err := c.openLibrary()
			if err != nil {
				return err
			}
			defer store.Close()

			entry, err := store.Import(cmd.Context(), library.ImportInput{
				Name:   args[0],
				Design: design,
				Record: rec,
				Tool:   c.tool,
				Details: provenance.Details{
					"design_path":   designPath,
					"metadata_path": metadataPath,
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "%s %s\n", entry.Name, entry.Record.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&designPath, "design", "", "exported design file")
	cmd.Flags().StringVar(&metadataPath, "metadata", "", "encrypted metadata sidecar")
	_ = cmd.MarkFlagRequired("design")
	_ = cmd.MarkFlagRequired("metadata")
	return cmd
}
