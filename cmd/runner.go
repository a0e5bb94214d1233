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
	"github.com/desertthunder/qmx/internal/login"
	"github.com/desertthunder/qmx/internal/models"
	"github.com/desertthunder/qmx/internal/repositories"
	"github.com/desertthunder/qmx/internal/services"
	"github.com/desertthunder/qmx/internal/shared"
	"github.com/desertthunder/qmx/internal/ui"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config        *shared.Config
	configPath    string
	httpClient    *http.Client
	fingerprinter services.Fingerprinter
	loginOpts     *login.Options
	logger        *log.Logger
	output        io.Writer
	palette       *ui.Palette
	openQR        func(path string) error
	release       func()
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config        *shared.Config
	ConfigPath    string
	HTTPClient    *http.Client
	Fingerprinter services.Fingerprinter
	LoginOptions  *login.Options // overrides the options derived from Config.Login
	Logger        *log.Logger
	Output        io.Writer
	OpenQR        func(path string) error
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
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.OpenQR == nil {
		opts.OpenQR = shared.OpenBrowser
	}

	return &Runner{
		config:        opts.Config,
		configPath:    opts.ConfigPath,
		httpClient:    opts.HTTPClient,
		fingerprinter: opts.Fingerprinter,
		loginOpts:     opts.LoginOptions,
		logger:        opts.Logger,
		output:        opts.Output,
		palette:       ui.Styles,
		openQR:        opts.OpenQR,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, loginCommand, phoneCommand, authCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// before makes the invocation one task, so commands that call out without an explicit
// scope share a single anonymous session. [Runner.after] closes it.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("debug") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}
	ctx, r.release = services.NewTask(ctx, r.sessionOpts(nil))
	return ctx, nil
}

func (r *Runner) after(context.Context, *cli.Command) error {
	if r.release != nil {
		r.release()
		r.release = nil
	}
	return nil
}

// sessionOpts builds session options for cred, nil for an anonymous session.
func (r *Runner) sessionOpts(cred *models.Credential) services.SessionOpts {
	cfg := services.APIConfigFrom(r.config.API)
	return services.SessionOpts{
		Credential:    cred,
		Config:        &cfg,
		HTTPClient:    r.httpClient,
		Fingerprinter: r.fingerprinter,
		Logger:        r.logger,
	}
}

func (r *Runner) loginOptions() login.Options {
	if r.loginOpts != nil {
		return *r.loginOpts
	}
	return login.OptionsFrom(r.config.Login, r.logger)
}

// openDatabase opens the configured database and brings its schema up to date.
func (r *Runner) openDatabase() (*sql.DB, error) {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// stores opens the database and returns both stores; close the returned db when done.
func (r *Runner) stores() (*sql.DB, *repositories.CredentialRepository, *repositories.LoginAttemptRepository, error) {
	db, err := r.openDatabase()
	if err != nil {
		return nil, nil, nil, err
	}
	return db, repositories.NewCredentialRepository(db), repositories.NewLoginAttemptRepository(db), nil
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
