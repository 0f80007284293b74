package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lattice-labs/bmde-go/internal/provenance"
)

func (c *cli) checksumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checksum FILE...",
		Short: "Print the design checksum of each file (\"-\" reads stdin)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				design, err := readInput(cmd, path)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "%s  %s\n", provenance.Checksum(design), path)
			}
			return nil
		},
	}
}

func (c *cli) diffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff BEFORE AFTER",
		Short: "Print the change that restores BEFORE from AFTER",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			before, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			after, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			patch, err := provenance.Diff(before, after)
			if err != nil {
				return err
			}
			fmt.Fprint(c.stdout, patch)
			return nil
		},
	}
}

func (c *cli) applyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply PATCH SOURCE",
		Short: "Apply a stored change to SOURCE and print the result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			source, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			out, err := provenance.Apply(patch, source)
			if err != nil {
				return err
			}
			fmt.Fprint(c.stdout, out)
			return nil
		},
	}
}
