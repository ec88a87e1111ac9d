package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/bamsammich/fsu/internal/config"
	"github.com/bamsammich/fsu/internal/domain"
	"github.com/bamsammich/fsu/internal/engine"
	"github.com/bamsammich/fsu/internal/event"
	"github.com/bamsammich/fsu/internal/filter"
	"github.com/bamsammich/fsu/internal/image"
	"github.com/bamsammich/fsu/internal/stats"
	"github.com/bamsammich/fsu/internal/ui"
)

// copyPreset configures one copy subcommand. get and put fix the direction;
// the others require -g or -p.
type copyPreset struct {
	use   string
	short string
	get   bool
	put   bool
	move  bool
}

type copyOptions struct {
	get         bool
	put         bool
	recursive   bool
	dereference bool
	move        bool
	verbose     bool
	preserve    bool
	noHardlinks bool
	verify      bool
	bwLimit     string
	filterFile  string
	minSize     string
	maxSize     string
	chain       *filter.Chain
}

// filterFlag is a custom pflag.Value that preserves CLI ordering of
// --exclude and --include rules by appending to a shared filter.Chain.
type filterFlag struct {
	chain   *filter.Chain
	include bool
}

func (*filterFlag) String() string { return "" }
func (*filterFlag) Type() string   { return "pattern" }

func (f *filterFlag) Set(val string) error {
	if f.include {
		return f.chain.AddInclude(val)
	}
	return f.chain.AddExclude(val)
}

func newCopyCmd(g *globalOptions, preset copyPreset) *cobra.Command {
	o := &copyOptions{get: preset.get, put: preset.put, move: preset.move, chain: filter.NewChain()}

	cmd := &cobra.Command{
		Use:   preset.use + " [flags] <source>... <destination>",
		Short: preset.short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCopy(cmd, g, o, args)
		},
	}

	f := cmd.Flags()
	if !preset.get && !preset.put {
		f.BoolVarP(&o.get, "get", "g", false, "copy out of the image onto the host")
		f.BoolVarP(&o.put, "put", "p", false, "copy from the host into the image")
	}
	if !preset.move {
		f.BoolVarP(&o.move, "delete", "d", false, "remove the sources after copying (move)")
	}
	f.BoolVarP(&o.recursive, "recursive", "R", false, "copy directories recursively")
	f.BoolVarP(&o.dereference, "dereference", "L", false, "follow symlinks in the source")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "print each entry as it is copied")
	f.BoolVarP(&o.preserve, "preserve", "P", false, "keep set-id bits and timestamps")
	f.BoolVar(&o.noHardlinks, "no-hardlinks", false, "copy hard-linked files independently")
	f.BoolVar(&o.verify, "verify", false, "verify checksums after copy (BLAKE3)")
	f.StringVar(&o.bwLimit, "bwlimit", "", "bandwidth limit (e.g. 100M, 1G)")
	f.Var(&filterFlag{chain: o.chain}, "exclude", "exclude entries matching PATTERN (repeatable)")
	f.Var(&filterFlag{chain: o.chain, include: true}, "include", "include entries matching PATTERN (repeatable)")
	f.StringVar(&o.filterFile, "filter", "", "read filter rules from FILE")
	f.StringVar(&o.minSize, "min-size", "", "skip files smaller than SIZE (e.g. 1M, 100K)")
	f.StringVar(&o.maxSize, "max-size", "", "skip files larger than SIZE (e.g. 1G, 500M)")

	return cmd
}

//nolint:gocyclo,revive // cyclomatic,cognitive-complexity: orchestrates flag parsing, image lifecycle and the run
func runCopy(cmd *cobra.Command, g *globalOptions, o *copyOptions, args []string) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	usage := func(format string, a ...any) error {
		fmt.Fprintf(stderr, "fsu %s: %s\n", cmd.Name(), fmt.Sprintf(format, a...))
		return &exitError{code: exitAborted}
	}

	switch {
	case o.get && o.put:
		return usage("-g and -p are mutually exclusive")
	case !o.get && !o.put:
		return usage("-g or -p should be specified")
	case g.image == "":
		return usage("an image must be given with --image")
	}

	cfg, err := config.Load()
	if err != nil {
		return usage("config: %v", err)
	}
	applyConfigDefaults(cmd.Flags(), cfg, g, o)

	closeLog, err := setupLogging(stderr, g, o.verbose)
	if err != nil {
		return usage("%v", err)
	}
	defer closeLog()

	imgOpts, err := imageOptions(g)
	if err != nil {
		return usage("%v", err)
	}
	var limiter *rate.Limiter
	if o.bwLimit != "" {
		n, err := filter.ParseSize(o.bwLimit)
		if err == nil && n <= 0 {
			err = errNoLimit
		}
		if err != nil {
			return usage("invalid --bwlimit: %v", err)
		}
		limiter = engine.NewBWLimiter(n)
	}
	if err := o.loadFilters(); err != nil {
		return usage("%v", err)
	}

	img, err := image.Open(g.image, imgOpts)
	if err != nil {
		slog.Error("cannot open image", "path", g.image, "error", err)
		return &exitError{code: exitAborted}
	}

	host := domain.NewHost()
	dir := domain.Put(host, img)
	if o.get {
		dir = domain.Get(img, host)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	events := make(chan event.Event, 256)
	presenterEvents := (<-chan event.Event)(events)
	if g.logFile != "" {
		presenterEvents = teeEvents(events)
	}

	presenter := ui.NewPresenter(ui.Config{
		Writer:    stdout,
		ErrWriter: stderr,
		Stats:     collector,
		IsTTY:     isTerminal(stderr),
		Width:     termWidth(stderr),
		Quiet:     g.quiet,
		Verbose:   o.verbose,
	})

	engineCfg := engine.Config{
		Direction: dir,
		Dst:       args[len(args)-1],
		Sources:   args[:len(args)-1],
		Options: engine.Options{
			Limiter:     limiter,
			Events:      events,
			Stats:       collector,
			Recursive:   o.recursive,
			FollowLinks: o.dereference,
			Move:        o.move,
			NoHardlinks: o.noHardlinks,
			Preserve:    o.preserve,
			Verify:      o.verify,
		},
	}
	if !o.chain.Empty() {
		engineCfg.Filter = o.chain
	}

	slog.Debug("starting",
		"direction", dir.String(),
		"image", g.image,
		"sources", engineCfg.Sources,
		"dst", engineCfg.Dst,
		"recursive", o.recursive,
		"move", o.move,
	)

	var (
		presenterErr error
		wg           sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		presenterErr = presenter.Run(presenterEvents)
	}()

	result := engine.Run(ctx, engineCfg)
	close(events)
	wg.Wait()
	if presenterErr != nil {
		fmt.Fprintf(stderr, "presenter: %v\n", presenterErr)
	}

	saveErr := saveImage(img)

	if !g.quiet {
		if summary := presenter.Summary(); summary != "" {
			fmt.Fprintln(stderr, summary)
		}
	}
	slog.Debug("finished", "stats", result.Stats.String())

	switch {
	case result.Err != nil:
		// Structural errors are logged by the engine and exhaustion is
		// reported by the presenter.
		if errors.Is(result.Err, context.Canceled) {
			slog.Error("interrupted")
		}
		return &exitError{code: exitAborted}
	case saveErr != nil:
		return &exitError{code: exitAborted}
	case len(result.Failures) > 0:
		return &exitError{code: exitFailed}
	}
	return nil
}

// saveImage writes the image back when the run changed it. Partial results
// of a failed run are saved too, matching what a mounted image would hold.
func saveImage(img *image.Image) error {
	if !img.Dirty() {
		return nil
	}
	if err := img.Save(); err != nil {
		slog.Error("cannot save image", "path", img.Path(), "error", err)
		return err
	}
	slog.Info("image saved", "path", img.Path(), "bytes", img.Used(), "compression", img.Compression().String())
	return nil
}

func (o *copyOptions) loadFilters() error {
	if o.filterFile != "" {
		if err := o.chain.LoadFile(o.filterFile); err != nil {
			return fmt.Errorf("load filter file: %w", err)
		}
	}
	if o.minSize != "" {
		n, err := filter.ParseSize(o.minSize)
		if err != nil {
			return fmt.Errorf("invalid --min-size: %w", err)
		}
		o.chain.SetMinSize(n)
	}
	if o.maxSize != "" {
		n, err := filter.ParseSize(o.maxSize)
		if err != nil {
			return fmt.Errorf("invalid --max-size: %w", err)
		}
		o.chain.SetMaxSize(n)
	}
	return nil
}

func imageOptions(g *globalOptions) (image.Options, error) {
	var opts image.Options
	c, err := image.ParseCompression(g.compression)
	if err != nil {
		return opts, err
	}
	opts.Compression = c
	if g.imageSize != "" {
		n, err := filter.ParseSize(g.imageSize)
		if err != nil {
			return opts, fmt.Errorf("invalid --image-size: %w", err)
		}
		opts.MaxSize = n
	}
	return opts, nil
}

// applyConfigDefaults applies config file defaults for flags not explicitly
// set on the CLI.
func applyConfigDefaults(flags *pflag.FlagSet, cfg config.Config, g *globalOptions, o *copyOptions) {
	setBool := func(name string, dst *bool, v *bool) {
		if v != nil && !flags.Changed(name) {
			*dst = *v
		}
	}
	setString := func(name string, dst *string, v *string) {
		if v != nil && !flags.Changed(name) {
			*dst = *v
		}
	}

	d := cfg.Defaults
	setBool("recursive", &o.recursive, d.Recursive)
	setBool("verbose", &o.verbose, d.Verbose)
	setBool("preserve", &o.preserve, d.Preserve)
	setBool("verify", &o.verify, d.Verify)
	if d.Hardlinks != nil && !flags.Changed("no-hardlinks") {
		o.noHardlinks = !*d.Hardlinks
	}
	setString("bwlimit", &o.bwLimit, d.BWLimit)
	setString("compression", &g.compression, cfg.Image.Compression)
	setString("image-size", &g.imageSize, cfg.Image.MaxSize)
}

// teeEvents logs every event as a structured record before forwarding it.
func teeEvents(events <-chan event.Event) <-chan event.Event {
	teed := make(chan event.Event, 256)
	go func() {
		defer close(teed)
		for ev := range events {
			attrs := []slog.Attr{
				slog.String("type", ev.Type.String()),
				slog.String("path", ev.Path),
			}
			if ev.Target != "" {
				attrs = append(attrs, slog.String("target", ev.Target))
			}
			if ev.LinkTarget != "" {
				attrs = append(attrs, slog.String("link", ev.LinkTarget))
			}
			if ev.Size != 0 {
				attrs = append(attrs, slog.Int64("size", ev.Size))
			}
			if ev.Error != nil {
				attrs = append(attrs, slog.String("error", ev.Error.Error()))
			}
			slog.LogAttrs(context.Background(), slog.LevelDebug, "fsu.event", attrs...)
			teed <- ev
		}
	}()
	return teed
}

// setupLogging installs the default logger: text on stderr, plus JSON to
// the --log file when given.
func setupLogging(stderr io.Writer, g *globalOptions, verbose bool) (func(), error) {
	level := slog.LevelWarn
	switch {
	case g.debug:
		level = slog.LevelDebug
	case verbose:
		level = slog.LevelInfo
	case g.quiet:
		level = slog.LevelError
	}
	textHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})

	var handler slog.Handler = textHandler
	closeFn := func() {}
	if g.logFile != "" {
		lf, err := os.Create(g.logFile)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{Level: slog.LevelDebug})
		handler = ui.NewMultiHandler(textHandler, jsonHandler)
		closeFn = func() { _ = lf.Close() }
	}
	slog.SetDefault(slog.New(handler))
	return closeFn, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && ui.IsTTY(f)
}

func termWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok && ui.IsTTY(f) {
		return ui.TermWidth(f)
	}
	return 0
}

var errNoLimit = errors.New("bandwidth limit must be positive")
