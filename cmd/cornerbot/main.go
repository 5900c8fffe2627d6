// Cornerbot answers "who is refereeing this match, and how card-happy
// are they?" in a Telegram chat.
//
// A message is a SofaScore match link or a free-text fixture such as
// "Leeds Brighton". The bot finds the match page, reads the referee
// off it and replies with that referee's statistics. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	cornerbot serve               Run the Telegram bot
//	cornerbot init [dir]          Write an example config.yaml
//	cornerbot ask <link|fixture>  Run one lookup and print the reply
//	cornerbot search <fixture>    Show the search candidates for a fixture
//	cornerbot extract <file.html> Read the referee off a saved match page
//	cornerbot import <rows.json>  Load stats rows into the SQLite backend
//	cornerbot version             Print version and build information
//	cornerbot -o json version     Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nugget/cornerbot/internal/buildinfo"
	"github.com/nugget/cornerbot/internal/config"
	"github.com/nugget/cornerbot/internal/referee"
	"github.com/nugget/cornerbot/internal/report"
	"github.com/nugget/cornerbot/internal/search"
	"github.com/nugget/cornerbot/internal/stats"
)

// main only builds the OS environment and hands off to [run], keeping
// os.Exit and os.Args out of code that tests drive.
func main() {
	if err := run(context.Background(), os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. serve logs to stdout; one-shot commands
// log to stderr so their output stays parseable. main prints the
// returned error to stderr. Arguments are parsed by hand because the
// flag package's globals get in the way of parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return errors.New("usage: cornerbot ask <link|fixture>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, strings.Join(cmdArgs, " "))
	case "search":
		if len(cmdArgs) == 0 {
			return errors.New("usage: cornerbot search <fixture>")
		}
		return runSearch(ctx, stdout, stderr, configPath, outputFmt, strings.Join(cmdArgs, " "))
	case "extract":
		if len(cmdArgs) == 0 {
			return errors.New("usage: cornerbot extract <file.html>")
		}
		return runExtract(stdout, outputFmt, cmdArgs[0])
	case "import":
		if len(cmdArgs) == 0 {
			return errors.New("usage: cornerbot import <rows.json>")
		}
		return runImport(ctx, stdout, stderr, configPath, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		return writeJSON(w, info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Cornerbot - referee statistics for the match you name")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: cornerbot [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve              Run the Telegram bot")
	fmt.Fprintln(w, "  init [dir]         Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  ask <text>         Run one lookup and print the reply")
	fmt.Fprintln(w, "  search <fixture>   Show search candidates for a fixture")
	fmt.Fprintln(w, "  extract <file>     Read the referee off a saved match page")
	fmt.Fprintln(w, "  import <file>      Load a JSON array of stats rows into SQLite")
	fmt.Fprintln(w, "  version            Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/cornerbot/config.yaml, /etc/cornerbot/config.yaml")
	return nil
}

// runAsk runs the pipeline once, without Telegram. Useful for checking
// the browser and stats wiring from a shell.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, text string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	deps, err := buildDeps(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	reply := deps.pipeline(logger, nil).Handle(ctx, text)
	if outputFmt == "json" {
		return writeJSON(stdout, askResult{
			Outcome: reply.Outcome,
			Text:    reply.Text,
			Report:  reply.Report,
		})
	}
	fmt.Fprintln(stdout, reply.Text)
	return nil
}

type askResult struct {
	Outcome report.Outcome `json:"outcome"`
	Text    string         `json:"text"`
	Report  *report.Report `json:"report,omitempty"`
}

// runSearch shows what the configured search provider returns for a
// fixture, before match-page filtering.
func runSearch(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, query string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	deps, err := buildDeps(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	results, err := deps.search.SearchWith(ctx, cfg.Search.Provider, query, search.Options{})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if outputFmt == "json" {
		return writeJSON(stdout, results)
	}
	fmt.Fprintln(stdout, search.FormatResults(results))
	return nil
}

type extractResult struct {
	Found bool   `json:"found"`
	Name  string `json:"name,omitempty"`
	Key   string `json:"key,omitempty"`
}

// runExtract reads the referee off a saved match page. It needs no
// config.
func runExtract(stdout io.Writer, outputFmt, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read page: %w", err)
	}

	var res extractResult
	if name, ok := referee.ExtractName(string(data)); ok {
		res = extractResult{Found: true, Name: name, Key: referee.NormalizeKey(name)}
	}

	if outputFmt == "json" {
		return writeJSON(stdout, res)
	}
	if !res.Found {
		fmt.Fprintln(stdout, "no referee found")
		fmt.Fprintln(stdout, referee.LabelSnippet(string(data), 200))
		return nil
	}
	fmt.Fprintf(stdout, "referee: %s\nkey:     %s\n", res.Name, res.Key)
	return nil
}

// runImport loads a JSON array of stats rows into the SQLite backend.
// The rows use the same column names as the hosted table.
func runImport(ctx context.Context, stdout, stderr io.Writer, configPath, path string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open rows: %w", err)
	}
	defer f.Close()

	var rows []stats.Row
	if err := json.NewDecoder(f).Decode(&rows); err != nil {
		return fmt.Errorf("decode rows from %s: %w", path, err)
	}

	db, err := stats.OpenSQLite(cfg.Stats.SQLite.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Put(ctx, rows...); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	total, err := db.Count(ctx)
	if err != nil {
		return err
	}

	logger.Info("stats imported",
		"file", path,
		"rows", len(rows),
		"table_rows", total,
		"database", cfg.Stats.SQLite.Path,
	)
	fmt.Fprintf(stdout, "Imported %d rows into %s (%d total)\n", len(rows), cfg.Stats.SQLite.Path, total)
	return nil
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// configuredLogger builds the logger the config asks for. The level
// already passed Validate.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return config.NewLogger(w, level, cfg.LogFormat)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
