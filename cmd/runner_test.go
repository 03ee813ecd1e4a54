package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/dsx/internal/models"
	"github.com/desertthunder/dsx/internal/repositories"
	"github.com/desertthunder/dsx/internal/services"
	"github.com/desertthunder/dsx/internal/shared"
	"github.com/desertthunder/dsx/internal/tasks"
	tu "github.com/desertthunder/dsx/internal/testing"
	"github.com/desertthunder/dsx/internal/testing/fakeckan"
	"github.com/urfave/cli/v3"
)

const (
	sourceURL = "https://source.example.org"
	targetURL = "https://target.example.org"
)

// setupTestDB creates an in-memory job database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// testConfig points both sides at the fake catalogs and publishes immediately.
func testConfig() *shared.Config {
	config := shared.DefaultConfig()
	config.Source = shared.EndpointConfig{URL: sourceURL, Token: "src-token"}
	config.Target = shared.EndpointConfig{URL: targetURL, Token: "dst-token"}
	config.Migration.PublishDelay = "0s"
	config.Migration.BatchSize = 2
	return config
}

// fakeCatalogs routes endpoints to in-memory catalogs by origin.
func fakeCatalogs(t *testing.T, catalogs ...*fakeckan.Catalog) CatalogFactory {
	t.Helper()
	byURL := map[string]*fakeckan.Catalog{}
	for _, c := range catalogs {
		byURL[c.Endpoint().URL] = c
	}
	return func(ep models.CatalogEndpoint) services.Catalog {
		c, ok := byURL[ep.URL]
		if !ok {
			t.Fatalf("no fake catalog for %s", ep.URL)
		}
		return c
	}
}

// runCommand executes args against a root command built from r, the way main does minus config loading.
func runCommand(t *testing.T, r *Runner, args ...string) error {
	t.Helper()
	app := &cli.Command{
		Name:                      "dsx",
		DisableSliceFlagSeparator: true,
		Commands:                  r.register(),
	}
	return app.Run(context.Background(), append([]string{"dsx"}, args...))
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			jobs := repositories.NewJobRepository(setupTestDB(t))

			runner := NewRunner(RunnerOpts{
				Config:     config,
				ConfigPath: "/test/path/config.toml",
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
				Jobs:       jobs,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.jobs != jobs {
				t.Error("expected job repository to be set")
			}
			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
		})

		t.Run("with nil config uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Config: nil})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Logger: nil})

			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: nil})

			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})

		t.Run("with nil catalogs builds action API clients", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			ep := models.CatalogEndpoint{URL: targetURL, Token: "secret"}
			client, ok := runner.catalogs(ep).(*services.CatalogClient)
			if !ok {
				t.Fatal("expected default factory to return *services.CatalogClient")
			}
			if client.Endpoint() != ep {
				t.Errorf("endpoint = %+v, want %+v", client.Endpoint(), ep)
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			expected := `{"key":"value"}` + "\n"
			if output.String() != expected {
				t.Errorf("expected %q, got %q", expected, output.String())
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			err := runner.writeJSON(make(chan int), false)
			if err == nil || !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if output.String() != "hello world" {
				t.Errorf("expected 'hello world', got %q", output.String())
			}
		})

		t.Run("writePlainln surrounds with newlines", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlainln("next %d", 1); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if output.String() != "\nnext 1\n" {
				t.Errorf("got %q", output.String())
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writePlain("test")
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		names := map[string]bool{}
		for i, cmd := range commands {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			names[cmd.Name] = true
		}
		for _, want := range []string{"setup", "migrate", "catalog", "api", "jobs"} {
			if !names[want] {
				t.Errorf("expected %q command to be registered", want)
			}
		}
	})

	t.Run("Close without database", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		if err := runner.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
}

func TestRunner_Endpoints(t *testing.T) {
	endpointCmd := func(t *testing.T, r *Runner, args ...string) (src, dst models.CatalogEndpoint, err error) {
		t.Helper()
		cmd := &cli.Command{
			Name:  "probe",
			Flags: endpointFlags("source", "target"),
			Action: func(ctx context.Context, cmd *cli.Command) error {
				src, dst, err = r.endpoints(cmd)
				return nil
			},
		}
		if runErr := cmd.Run(context.Background(), append([]string{"probe"}, args...)); runErr != nil {
			t.Fatalf("Run() error = %v", runErr)
		}
		return
	}

	t.Run("falls back to config", func(t *testing.T) {
		r := NewRunner(RunnerOpts{Config: testConfig(), Logger: tu.DiscardLogger()})

		src, dst, err := endpointCmd(t, r)
		if err != nil {
			t.Fatalf("endpoints() error = %v", err)
		}
		if src.URL != sourceURL || src.Token != "src-token" {
			t.Errorf("source = %+v", src)
		}
		if dst.URL != targetURL || dst.Token != "dst-token" {
			t.Errorf("target = %+v", dst)
		}
	})

	t.Run("flags override config and reduce to origin", func(t *testing.T) {
		r := NewRunner(RunnerOpts{Config: testConfig(), Logger: tu.DiscardLogger()})

		_, dst, err := endpointCmd(t, r, "--target", "https://staging.example.org/dataset/air-quality", "--target-token", "flag-token")
		if err != nil {
			t.Fatalf("endpoints() error = %v", err)
		}
		if dst.URL != "https://staging.example.org" || dst.Token != "flag-token" {
			t.Errorf("target = %+v", dst)
		}
	})

	t.Run("token from environment", func(t *testing.T) {
		t.Setenv("DSX_SOURCE_TOKEN", "env-token")
		r := NewRunner(RunnerOpts{Config: testConfig(), Logger: tu.DiscardLogger()})

		src, _, err := endpointCmd(t, r)
		if err != nil {
			t.Fatalf("endpoints() error = %v", err)
		}
		if src.Token != "env-token" {
			t.Errorf("source token = %q, want env-token", src.Token)
		}
	})

	t.Run("missing url", func(t *testing.T) {
		config := testConfig()
		config.Target.URL = ""
		r := NewRunner(RunnerOpts{Config: config, Logger: tu.DiscardLogger()})

		if _, _, err := endpointCmd(t, r); !errors.Is(err, shared.ErrMissingEndpoint) {
			t.Errorf("expected missing endpoint error, got %v", err)
		}
	})

	t.Run("same catalog on both sides", func(t *testing.T) {
		r := NewRunner(RunnerOpts{Config: testConfig(), Logger: tu.DiscardLogger()})

		if _, _, err := endpointCmd(t, r, "--target", sourceURL+"/dataset/x"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected invalid argument error, got %v", err)
		}
	})
}

func TestRunner_Engine(t *testing.T) {
	engineOpts := func(t *testing.T, r *Runner, args ...string) (opts tasks.EngineOpts) {
		t.Helper()
		cmd := &cli.Command{
			Name: "probe",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "batch-size"},
				&cli.DurationFlag{Name: "publish-delay"},
				&cli.BoolFlag{Name: "soft-delete"},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				opts = r.engine(cmd).Options()
				return nil
			},
		}
		if err := cmd.Run(context.Background(), append([]string{"probe"}, args...)); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return
	}

	t.Run("from config", func(t *testing.T) {
		config := shared.DefaultConfig()
		r := NewRunner(RunnerOpts{Config: config, Logger: tu.DiscardLogger()})

		opts := engineOpts(t, r)
		if opts.BatchSize != 5000 || opts.PublishDelay != 20*time.Second || opts.SoftDelete {
			t.Errorf("opts = %+v", opts)
		}
	})

	t.Run("flags override", func(t *testing.T) {
		r := NewRunner(RunnerOpts{Config: shared.DefaultConfig(), Logger: tu.DiscardLogger()})

		opts := engineOpts(t, r, "--batch-size", "100", "--publish-delay", "0s", "--soft-delete")
		if opts.BatchSize != 100 || opts.PublishDelay != 0 || !opts.SoftDelete {
			t.Errorf("opts = %+v", opts)
		}
	})
}
