package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	image       string
	imageSize   string
	compression string
	logFile     string
	debug       bool
	quiet       bool
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitAborted
	}
	return exitOK
}

func newRootCmd() *cobra.Command {
	var (
		g           globalOptions
		showVersion bool
	)

	root := &cobra.Command{
		Use:   "fsu",
		Short: "Copy and move file trees in and out of filesystem images",
		Long: `fsu copies, moves and mirrors directory trees between the host and a
filesystem image, keeping file types, symlink targets, device nodes,
ownership and hard links intact.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "fsu %s\n", version)
				return nil
			}
			return cmd.Help()
		},
	}
	root.Flags().BoolVar(&showVersion, "version", false, "print version and exit")

	pf := root.PersistentFlags()
	pf.StringVarP(&g.image, "image", "I", "", "filesystem image FILE to operate on")
	pf.StringVar(&g.imageSize, "image-size", "", "cap image contents at SIZE (e.g. 512M)")
	pf.StringVar(&g.compression, "compression", "", "image compression: auto, none, gzip or zstd")
	pf.StringVar(&g.logFile, "log", "", "write structured JSON log to FILE")
	pf.BoolVar(&g.debug, "debug", false, "debug logging")
	pf.BoolVarP(&g.quiet, "quiet", "q", false, "suppress all output except errors")

	root.AddCommand(
		newCopyCmd(&g, copyPreset{
			use:   "ecp",
			short: "Copy files between the host and an image (-g or -p selects the direction)",
		}),
		newCopyCmd(&g, copyPreset{
			use:   "get",
			short: "Copy files out of an image onto the host",
			get:   true,
		}),
		newCopyCmd(&g, copyPreset{
			use:   "put",
			short: "Copy files from the host into an image",
			put:   true,
		}),
		newCopyCmd(&g, copyPreset{
			use:   "emv",
			short: "Move files between the host and an image (-g or -p selects the direction)",
			move:  true,
		}),
		newDocsCmd(),
	)
	return root
}

const (
	exitOK      = 0
	exitFailed  = 1 // one or more entries could not be copied
	exitAborted = 2 // structural error, out of space or bad usage
)

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
