package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"

	"joinplan/internal/config"
	"joinplan/internal/dbexec"
	"joinplan/internal/graph"
	"joinplan/internal/logging"
	"joinplan/internal/plan"
	"joinplan/internal/schema"
	"joinplan/internal/script"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := run(); err != nil {
		slog.Error("planify error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	pflag.Bool("version", false, "Print version and exit")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if showVersion, _ := pflag.CommandLine.GetBool("version"); showVersion {
		fmt.Printf("planify %s (%s)\n", Version, Commit)
		return nil
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger.Logger)

	ctx := context.Background()

	sc, err := schema.Load(ctx, cfg.Schema.Path)
	if err != nil {
		return err
	}

	scr, err := script.Load(cfg.Plan.Script)
	if err != nil {
		return err
	}

	res, err := plan.New(sc, scr.Root, plan.WithLogger(logger.Logger)).
		Record(scr.Ops...).
		Compile(ctx)
	if err != nil {
		return err
	}

	fmt.Println(res.SQL.SQL)
	if len(res.SQL.Args) > 0 {
		args, _ := json.Marshal(res.SQL.Args)
		fmt.Printf("-- args: %s\n", args)
	}
	for _, p := range res.Preloads {
		switch p.Strategy {
		case graph.StrategyThroughJoin:
			fmt.Printf("-- preload %s: through join %s\n", strings.Join(p.Path, "."), p.Binding)
		case graph.StrategySeparate:
			fmt.Printf("-- preload %s: separate batch on %s\n", strings.Join(p.Path, "."), p.Association.Target)
		}
	}

	if !cfg.Plan.Execute {
		return nil
	}
	return execute(ctx, cfg, logger, res)
}

func execute(ctx context.Context, cfg *config.Config, logger *logging.Logger, res *plan.Result) error {
	db, err := sql.Open("mysql", cfg.Database.EffectiveDSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	exec := dbexec.NewStandardExecutor(db)
	rows, err := dbexec.Run(ctx, exec, res.SQL)
	if err != nil {
		return err
	}
	logger.Info("query executed", slog.Int("rows", len(rows)))

	enc := json.NewEncoder(os.Stdout)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}

	for _, p := range res.Preloads {
		if p.Strategy != graph.StrategySeparate {
			continue
		}
		path := strings.Join(p.Path, ".")
		if len(p.Path) > 1 {
			// Batch hydration of nested preloads needs the intermediate
			// association's rows, which the CLI does not retain.
			logger.Warn("skipping nested separate preload", slog.String("path", path))
			continue
		}
		parents := parentKeys(rows, p.Association.LocalColumns)
		if len(parents) == 0 {
			continue
		}
		batch, err := p.BuildBatch(parents, 0, 0)
		if err != nil {
			return err
		}
		batchRows, err := dbexec.Run(ctx, exec, batch)
		if err != nil {
			return err
		}
		logger.Info("preload executed", slog.String("path", path), slog.Int("rows", len(batchRows)))
		for _, row := range batchRows {
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
	}
	return nil
}

// parentKeys extracts the distinct association key tuples from the root
// rows, skipping rows with missing or NULL key values.
func parentKeys(rows []map[string]any, columns []string) [][]any {
	seen := make(map[string]struct{}, len(rows))
	var out [][]any
	for _, row := range rows {
		key := make([]any, len(columns))
		complete := true
		for i, col := range columns {
			v, ok := row[col]
			if !ok || v == nil {
				complete = false
				break
			}
			key[i] = v
		}
		if !complete {
			continue
		}
		fp := fmt.Sprintf("%v", key)
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, key)
	}
	return out
}
