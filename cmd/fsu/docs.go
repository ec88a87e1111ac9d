package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

func newDocsCmd() *cobra.Command {
	var dir, format string
	cmd := &cobra.Command{
		Use:    "gen-docs",
		Short:  "Generate man pages or markdown for fsu",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return genDocs(cmd.Root(), dir, format)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "docs", "output directory")
	cmd.Flags().StringVar(&format, "format", "man", "output format (man or markdown)")
	return cmd
}

func genDocs(root *cobra.Command, dir, format string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	switch format {
	case "man":
		return doc.GenManTree(root, &doc.GenManHeader{
			Title:   "FSU",
			Section: "1",
			Source:  "fsu " + version,
		}, dir)
	case "markdown":
		return doc.GenMarkdownTree(root, dir)
	default:
		return fmt.Errorf("unknown format %q (use man or markdown)", format)
	}
}
