package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dsx/internal/formatter"
	"github.com/desertthunder/dsx/internal/models"
	"github.com/desertthunder/dsx/internal/repositories"
	"github.com/desertthunder/dsx/internal/services"
	"github.com/desertthunder/dsx/internal/shared"
	"github.com/desertthunder/dsx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// CatalogFactory builds the client used for one side of a migration.
type CatalogFactory func(endpoint models.CatalogEndpoint) services.Catalog

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config      *shared.Config
	configPath  string
	httpClient  *http.Client
	logger      *log.Logger
	output      io.Writer
	catalogs    CatalogFactory
	jobs        *repositories.JobRepository
	db          *sql.DB
	openBrowser func(url string) error
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client // Overrides the per-endpoint client built from [client] config
	Logger     *log.Logger
	Output     io.Writer
	Catalogs   CatalogFactory              // Defaults to [services.NewCatalogClient]
	Jobs       *repositories.JobRepository // Opened from [database] config on first use when nil
	Browser    func(url string) error
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Browser == nil {
		opts.Browser = shared.OpenBrowser
	}

	r := &Runner{
		config:      opts.Config,
		configPath:  opts.ConfigPath,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		output:      opts.Output,
		catalogs:    opts.Catalogs,
		jobs:        opts.Jobs,
		openBrowser: opts.Browser,
	}
	if r.catalogs == nil {
		r.catalogs = func(ep models.CatalogEndpoint) services.Catalog { return r.client(ep) }
	}
	return r
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, migrateCommand, catalogCommand, apiCommand, jobsCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Close releases the job database if one was opened.
func (r *Runner) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	r.jobs = nil
	return err
}

// client builds a concrete action API client for ep from the [client] config section.
func (r *Runner) client(ep models.CatalogEndpoint) *services.CatalogClient {
	opts := services.ClientOptsFromConfig(r.config.Client, r.logger)
	opts.HTTPClient = r.httpClient
	return services.NewCatalogClient(ep, opts)
}

// endpoint resolves one side from its flags, falling back to the config file.
func (r *Runner) endpoint(cmd *cli.Command, side string) (models.CatalogEndpoint, error) {
	cfg := r.config.Source
	if side == "target" {
		cfg = r.config.Target
	}

	rawURL := cfg.URL
	if cmd.IsSet(side) {
		rawURL = cmd.String(side)
	}
	token := cfg.Token
	if v := cmd.String(side + "-token"); v != "" {
		token = v
	}

	if rawURL == "" {
		return models.CatalogEndpoint{}, fmt.Errorf("%w: set --%s or [%s] url in config", shared.ErrMissingEndpoint, side, side)
	}
	ep, err := models.NewCatalogEndpoint(rawURL, token)
	if err != nil {
		return models.CatalogEndpoint{}, fmt.Errorf("%w: %v", shared.ErrInvalidFlag, err)
	}
	return ep, nil
}

// endpoints resolves both sides and rejects a migration onto the instance it reads from.
func (r *Runner) endpoints(cmd *cli.Command) (source, target models.CatalogEndpoint, err error) {
	if source, err = r.endpoint(cmd, "source"); err != nil {
		return
	}
	if target, err = r.endpoint(cmd, "target"); err != nil {
		return
	}
	if source.URL == target.URL {
		err = fmt.Errorf("%w: source and target are both %s", shared.ErrInvalidArgument, source.URL)
	}
	return
}

// engine builds an engine from the [migration] config section with flag overrides applied.
func (r *Runner) engine(cmd *cli.Command) *tasks.Engine {
	m := r.config.Migration
	opts := tasks.EngineOpts{
		BatchSize:       m.Batch(),
		PublishDelay:    m.Delay(),
		PublishAttempts: m.Attempts(),
		SoftDelete:      !m.HardPurge,
	}
	if cmd.IsSet("batch-size") {
		opts.BatchSize = int(cmd.Int("batch-size"))
	}
	if cmd.IsSet("publish-delay") {
		opts.PublishDelay = cmd.Duration("publish-delay")
	}
	if cmd.IsSet("soft-delete") && cmd.Bool("soft-delete") {
		opts.SoftDelete = true
	}
	return tasks.NewEngine(opts, r.logger)
}

// jobRepository opens the job history on first use. History is best effort: when the database
// cannot be opened the command still runs and nil is returned.
func (r *Runner) jobRepository(ctx context.Context) *repositories.JobRepository {
	if r.jobs != nil {
		return r.jobs
	}

	db, err := shared.OpenDatabase(ctx, r.config.Database)
	if err != nil {
		r.logger.Warn("job history unavailable", "path", r.config.Database.Path, "error", err)
		return nil
	}
	r.db = db
	r.jobs = repositories.NewJobRepository(db)
	return r.jobs
}

// render writes v in the format named by the command's --format flag.
func (r *Runner) render(cmd *cli.Command, v any) error {
	f, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	data, err := formatter.Render(v, f)
	if err != nil {
		return fmt.Errorf("failed to render output: %w", err)
	}
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		return r.writePlain("\n")
	}
	return nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
