package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/knowledge-engine/catalogsearch/internal/config"
	"github.com/knowledge-engine/catalogsearch/internal/engine"
	"github.com/knowledge-engine/catalogsearch/internal/logging"
	"github.com/knowledge-engine/catalogsearch/internal/storage"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "trainer",
		Usage: "Fit the catalog vectorizer and query saved artifacts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				EnvVars: []string{"CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
		},
		Before: checkLogLevel,
		Commands: []*cli.Command{
			{
				Name:   "train",
				Usage:  "Select hyperparameters, fit the vectorizer and save both artifacts",
				Action: trainCommand,
				Flags: append(pathFlags(),
					&cli.IntFlag{
						Name:  "folds",
						Usage: "Cross-validation folds",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent candidate evaluations (0 uses all CPUs)",
					},
					&cli.StringFlag{
						Name:  "judgments",
						Usage: "YAML file of labeled queries enabling the grid search",
					},
				),
			},
			{
				Name:      "query",
				Usage:     "Rank the catalog against a query using the saved artifacts",
				ArgsUsage: "<text>",
				Action:    queryCommand,
				Flags: append(pathFlags(),
					&cli.IntFlag{
						Name:    "top-n",
						Aliases: []string{"n"},
						Usage:   "Number of results to print",
						Value:   10,
					},
				),
			},
		},
	}
}

// pathFlags override the catalog and artifact locations from the config.
func pathFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "catalog",
			Usage: "Catalog CSV path or http(s) URL",
		},
		&cli.StringFlag{
			Name:  "model",
			Usage: "Vectorizer artifact path",
		},
		&cli.StringFlag{
			Name:  "matrix",
			Usage: "Document matrix artifact path",
		},
	}
}

func checkLogLevel(c *cli.Context) error {
	if level := c.String("log-level"); level != "" {
		if _, err := logrus.ParseLevel(level); err != nil {
			return fmt.Errorf("invalid log level %q", level)
		}
	}
	return nil
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadFile(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("catalog") {
		cfg.Paths.CatalogPath = c.String("catalog")
	}
	if c.IsSet("model") {
		cfg.Paths.ModelPath = c.String("model")
	}
	if c.IsSet("matrix") {
		cfg.Paths.MatrixPath = c.String("matrix")
	}
	if c.IsSet("folds") {
		cfg.Training.Folds = c.Int("folds")
	}
	if c.IsSet("workers") {
		cfg.Training.Workers = c.Int("workers")
	}
	if c.IsSet("judgments") {
		cfg.Training.JudgmentsPath = c.String("judgments")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newEngine(c *cli.Context) (*engine.Engine, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}

	entry, closer, err := logging.New(cfg.Log, "catalog-trainer")
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.NewFileStore(cfg.Paths.ModelPath, cfg.Paths.MatrixPath)
	if err != nil {
		closer.Close()
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return engine.NewEngine(cfg, entry, store), func() { closer.Close() }, nil
}

func trainCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, cleanup, err := newEngine(c)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := eng.Train(ctx)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	out := c.App.Writer
	fmt.Fprintf(out, "Run ID:     %s\n", report.RunID)
	fmt.Fprintf(out, "Documents:  %d\n", report.Documents)
	fmt.Fprintf(out, "Vocabulary: %d\n", report.Vocabulary)
	fmt.Fprintf(out, "Params:     %s\n", report.Params)
	if report.Searched {
		fmt.Fprintf(out, "Score:      %.4f (%d candidates)\n", report.Score, len(report.Candidates))
	}
	fmt.Fprintf(out, "Duration:   %s\n", report.Duration)
	fmt.Fprintf(out, "Model:      %s\n", eng.Config.Paths.ModelPath)
	fmt.Fprintf(out, "Matrix:     %s\n", eng.Config.Paths.MatrixPath)
	return nil
}

func queryCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if query == "" {
		return fmt.Errorf("query text is required")
	}

	eng, cleanup, err := newEngine(c)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := eng.Reload(c.Context); err != nil {
		return fmt.Errorf("failed to load artifacts: %w", err)
	}

	results, err := eng.Search(c.Context, query, c.Int("top-n"))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tSCORE\tID\tTEXT")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", r.Rank, r.Score, r.Record.ID, r.Record.Text)
	}
	return w.Flush()
}
