package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lattice-labs/bmde-go/internal/designsource"
	"github.com/lattice-labs/bmde-go/internal/library"
	"github.com/lattice-labs/bmde-go/internal/verifier"
)

type verifyResult struct {
	pair      verifier.Request
	revisions int
	err       error
}

func (c *cli) verifyCmd() *cobra.Command {
	var (
		dir         string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "verify DESIGN[=METADATA]...",
		Short: "Verify exported designs against their metadata sidecars",
		Long: `Verify exported designs against their metadata sidecars, as a synthesis
provider would. Without =METADATA the sidecar is metadata_<stem>.bmde next
to the design. Exits non-zero if any design fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if concurrency < 1 {
				return errors.New("--concurrency must be >= 1")
			}
			opener, err := c.newEnvelope()
			if err != nil {
				return err
			}
			svc, err := verifier.New(verifier.Deps{
				Logger: c.logger,
				Source: designsource.Dir{Root: dir},
				Opener: opener,
				Actor:  c.tool,
			})
			if err != nil {
				return err
			}

			results := make([]verifyResult, len(args))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(concurrency)
			for i, arg := range args {
				req := parsePair(arg)
				results[i].pair = req
				g.Go(func() error {
					hist, err := svc.Revisions(ctx, req)
					results[i].revisions = len(hist.Revisions)
					results[i].err = err
					var rej *verifier.Rejection
					if err != nil && !errors.As(err, &rej) {
						return err
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			failed := 0
			for _, r := range results {
				var rej *verifier.Rejection
				switch {
				case r.err == nil:
					fmt.Fprintf(c.stdout, "OK      %s  %d revisions\n", r.pair.DesignPath, r.revisions)
				case errors.As(r.err, &rej):
					failed++
					fmt.Fprintf(c.stdout, "REJECT  %s  %s: %v\n", r.pair.DesignPath, rej.Reason, rej.Err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d designs failed verification", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "exported", "directory the design and metadata names are relative to")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "designs verified in parallel")
	return cmd
}

func parsePair(arg string) verifier.Request {
	design, metadata, ok := strings.Cut(arg, "=")
	if !ok || strings.TrimSpace(metadata) == "" {
		stem := strings.TrimSuffix(filepath.Base(design), filepath.Ext(design))
		metadata = filepath.ToSlash(filepath.Join(filepath.Dir(design), library.MetadataFileName(stem)))
	}
	return verifier.Request{DesignPath: strings.TrimSpace(design), MetadataPath: strings.TrimSpace(metadata)}
}
