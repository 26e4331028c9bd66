package app

import (
	"errors"
	"fmt"
	"io"
	"os"

	"forge/internal/client"
	"forge/internal/config"
	"forge/internal/logging"
	"forge/internal/mutate"
	"forge/internal/security"
	"forge/internal/tasks"
	"forge/internal/ui"
)

// Builder assembles an App step by step.
type Builder struct {
	cfg    *config.Config
	out    io.Writer
	errOut io.Writer

	theme         ui.ThemeType
	markdownStyle string
	querier       client.Querier
	clientOpts    []client.Option

	printer   *ui.Printer
	readGuard *security.Guard
	applier   *mutate.Applier
	planner   *tasks.Planner
	redactor  *security.SecretRedactor

	// For error collection during build
	buildErrors []error
}

// NewBuilder creates a Builder that prints to out.
func NewBuilder(cfg *config.Config, out io.Writer) *Builder {
	return &Builder{
		cfg:    cfg,
		out:    out,
		errOut: os.Stderr,
		theme:  ui.ThemeDark,
	}
}

// WithTheme selects the color theme.
func (b *Builder) WithTheme(theme ui.ThemeType) *Builder {
	b.theme = theme
	return b
}

// WithMarkdownStyle selects a glamour style for review comments. Empty
// detects the terminal.
func (b *Builder) WithMarkdownStyle(style string) *Builder {
	b.markdownStyle = style
	return b
}

// WithQuerier replaces the configured model client.
func (b *Builder) WithQuerier(q client.Querier) *Builder {
	b.querier = q
	return b
}

// WithClientOptions adds options to the configured model client.
func (b *Builder) WithClientOptions(opts ...client.Option) *Builder {
	b.clientOpts = append(b.clientOpts, opts...)
	return b
}

// WithLogOutput sets where log lines go when file logging is off.
func (b *Builder) WithLogOutput(w io.Writer) *Builder {
	b.errOut = w
	return b
}

// Build constructs the App instance, returning any errors encountered.
func (b *Builder) Build() (*App, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	b.initRedactor()
	if err := b.initLogging(); err != nil {
		b.addError(err)
	}
	if err := b.initUI(); err != nil {
		b.addError(err)
	}
	if err := b.initGuards(); err != nil {
		b.addError(err)
		return nil, b.finalizeError()
	}
	if err := b.initPlanner(); err != nil {
		b.addError(err)
	}
	if err := b.finalizeError(); err != nil {
		return nil, err
	}
	return b.assembleApp(), nil
}

// initRedactor registers the resolved API key so it never reaches the log
// or the run records.
func (b *Builder) initRedactor() {
	b.redactor = security.NewSecretRedactor()
	if key := b.cfg.ResolveKey(); key.IsSet() {
		b.redactor.AddSecret(key.Value)
	}
	logging.SetRedactor(b.redactor.Redact)
}

func (b *Builder) initLogging() error {
	level := logging.ParseLevel(b.cfg.Logging.Level)
	if b.cfg.Logging.File {
		return logging.EnableFileLogging(b.cfg.Path(b.cfg.Logging.RunsDir), level)
	}
	logging.Configure(level, b.errOut)
	return nil
}

func (b *Builder) initUI() error {
	md, err := ui.NewMarkdownRenderer(b.markdownStyle, 100)
	if err != nil {
		// Comments are still printed, just unformatted.
		logging.Warn("markdown rendering disabled", "error", err)
		md = nil
	}
	b.printer = ui.NewPrinter(b.out, ui.NewStyles(b.theme), md)
	return nil
}

func (b *Builder) initGuards() error {
	settings := b.cfg.GuardSettings()
	writeGuard, err := security.NewWriteGuard(settings)
	if err != nil {
		return err
	}
	readGuard, err := security.NewReadGuard(settings)
	if err != nil {
		return err
	}
	b.readGuard = readGuard
	b.applier = mutate.NewApplier(writeGuard)
	return nil
}

func (b *Builder) initPlanner() error {
	planner, err := tasks.NewPlanner(tasks.Config{
		Root:       b.cfg.Root,
		SourceDir:  b.cfg.Review.SourceDir,
		SpecFile:   b.cfg.Review.SpecFile,
		DepsFile:   b.cfg.Review.DepsFile,
		CacheDir:   b.cfg.Review.CacheDir,
		IgnoreFile: b.cfg.Guard.IgnoreFile,
	})
	if err != nil {
		return err
	}
	b.planner = planner
	return nil
}

func (b *Builder) newQuerier() (client.Querier, error) {
	opts := append([]client.Option{client.WithStatusCallback(&statusCallback{printer: b.printer})}, b.clientOpts...)
	c, err := client.NewFromConfig(b.cfg, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (b *Builder) assembleApp() *App {
	return &App{
		cfg:        b.cfg,
		printer:    b.printer,
		readGuard:  b.readGuard,
		applier:    b.applier,
		planner:    b.planner,
		querier:    b.querier,
		newQuerier: b.newQuerier,
		redactor:   b.redactor,
	}
}

func (b *Builder) addError(err error) {
	b.buildErrors = append(b.buildErrors, err)
}

// finalizeError combines all build errors into a single error.
func (b *Builder) finalizeError() error {
	switch len(b.buildErrors) {
	case 0:
		return nil
	case 1:
		return b.buildErrors[0]
	default:
		return fmt.Errorf("app build failed with %d errors: %w", len(b.buildErrors), errors.Join(b.buildErrors...))
	}
}
