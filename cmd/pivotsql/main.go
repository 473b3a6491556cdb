package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	_ "modernc.org/sqlite" // sqlite driver loaded here

	"github.com/umputun/pivotsql/pkg/config"
	"github.com/umputun/pivotsql/pkg/pivot"
)

type options struct {
	PositionalArgs struct {
		Query string `positional-arg-name:"query" description:"query to run against the database"`
	} `positional-args:"yes" positional-optional:"yes"`

	DBFile   string `short:"f" long:"db" env:"PIVOTSQL_DB" description:"sqlite database file" default:"pivotsql.db"`
	BookFile string `short:"b" long:"book" env:"PIVOTSQL_BOOK" description:"pivot book file" default:"pivots.yml"`
	Recreate bool   `long:"recreate" description:"drop and recreate pivot tables from the book"`

	Version bool `long:"version" description:"show version"`
	Dbg     bool `long:"dbg" description:"debug mode"`
}

// moduleName is the name pivot tables are created USING
const moduleName = "pivot"

var revision = "latest"

func main() {
	fmt.Printf("pivotsql %s\n", revision)

	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		os.Exit(1)
	}
	if opts.Version {
		os.Exit(0) // already printed
	}
	setupLog(opts.Dbg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		if opts.Dbg {
			log.Panicf("[ERROR] %v", err)
		}
		fmt.Printf("failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, w io.Writer) error {
	db, err := sql.Open("sqlite", opts.DBFile)
	if err != nil {
		return fmt.Errorf("can't open database %s: %w", opts.DBFile, err)
	}
	defer db.Close()

	if err := pivot.Register(db, moduleName); err != nil {
		return fmt.Errorf("can't register pivot module: %w", err)
	}

	if _, err := os.Stat(opts.BookFile); err != nil {
		log.Printf("[DEBUG] no pivot book file %s found", opts.BookFile)
	} else {
		book, err := config.New(opts.BookFile)
		if err != nil {
			return fmt.Errorf("can't load pivot book: %w", err)
		}
		if err := applyBook(ctx, db, book, moduleName, opts.Recreate); err != nil {
			return fmt.Errorf("can't apply pivot book: %w", err)
		}
	}

	if opts.PositionalArgs.Query == "" {
		log.Printf("[INFO] no query provided")
		return nil
	}
	return runQuery(ctx, db, w, opts.PositionalArgs.Query)
}

// applyBook creates all pivot tables from the book. Existing tables are left
// alone unless recreate is set, in which case they are dropped and made fresh.
func applyBook(ctx context.Context, db *sql.DB, book *config.Book, module string, recreate bool) error {
	for _, p := range book.Pivots {
		if recreate {
			if _, err := db.ExecContext(ctx, p.DropStatement()); err != nil {
				return fmt.Errorf("can't drop pivot table %q: %w", p.Name, err)
			}
		}

		var count int
		err := db.QueryRowContext(ctx,
			"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", p.Name).Scan(&count)
		if err != nil {
			return fmt.Errorf("can't check pivot table %q: %w", p.Name, err)
		}
		if count > 0 {
			log.Printf("[DEBUG] pivot table %q already exists, skipped", p.Name)
			continue
		}

		if _, err := db.ExecContext(ctx, p.CreateStatement(module)); err != nil {
			return fmt.Errorf("can't create pivot table %q: %w", p.Name, err)
		}
		log.Printf("[INFO] pivot table %q created", p.Name)
	}
	return nil
}

// runQuery executes the query and prints the result as an aligned table,
// header first, NULL cells rendered as <null>.
func runQuery(ctx context.Context, db *sql.DB, w io.Writer, query string) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("can't run query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("can't get result columns: %w", err)
	}

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	header := color.New(color.FgCyan, color.Bold)
	fmt.Fprintln(tw, header.Sprint(strings.Join(cols, "\t")))

	count := 0
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("can't read result row: %w", err)
		}

		cells := make([]string, len(vals))
		for i, v := range vals {
			cells[i] = renderValue(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("can't flush output: %w", err)
	}

	log.Printf("[DEBUG] query returned %d rows", count)
	return nil
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "<null>"
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func setupLog(dbg bool) {
	logOpts := []lgr.Option{lgr.Out(io.Discard), lgr.Err(io.Discard)} // default to discard
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
