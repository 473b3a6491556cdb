package config

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/go-pkgz/stringutils"
	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/umputun/pivotsql/pkg/pivot"
)

// Book defines the top-level config object, a list of pivot table definitions
// to materialize on a database.
type Book struct {
	Pivots []Pivot `yaml:"pivots" toml:"pivots"`
}

// Pivot defines a single pivot table: the name to create it under and the
// three queries the virtual table is built from.
type Pivot struct {
	Name    string `yaml:"name" toml:"name"`       // virtual table name, mandatory
	Rows    string `yaml:"rows" toml:"rows"`       // row key query
	Columns string `yaml:"columns" toml:"columns"` // column definition query
	Cell    string `yaml:"cell" toml:"cell"`       // cell query template with bound parameters
}

// New creates a new Book instance by loading pivot definitions from the specified
// file. Format is guessed by file extension, yaml or toml. Returns an error if the
// file cannot be read, parsed or fails validation.
func New(fname string) (res *Book, err error) {
	log.Printf("[DEBUG] request to load pivot book %q", fname)
	res = &Book{}

	data, err := os.ReadFile(fname) // nolint
	if err != nil {
		return nil, fmt.Errorf("can't read pivot book %s: %w", fname, err)
	}

	if err = unmarshalBookFile(fname, data, res); err != nil {
		return nil, fmt.Errorf("can't unmarshal config: %w", err)
	}

	if err = res.checkBook(); err != nil {
		return nil, fmt.Errorf("config %s is invalid: %w", fname, err)
	}

	log.Printf("[INFO] pivot book loaded with %d pivots", len(res.Pivots))
	return res, nil
}

// unmarshalBookFile parses book from the data bytes, guessing format by file
// extension. Files without extension are treated as yaml.
func unmarshalBookFile(fname string, data []byte, res *Book) error {
	switch {
	case strings.HasSuffix(fname, ".yml") || strings.HasSuffix(fname, ".yaml") || !strings.Contains(fname, "."):
		yamlDecoder := yaml.NewDecoder(bytes.NewReader(data))
		yamlDecoder.KnownFields(true) // strict mode, fail on unknown fields
		if err := yamlDecoder.Decode(res); err != nil {
			return fmt.Errorf("can't unmarshal yaml pivot book %s: %w", fname, err)
		}
	case strings.HasSuffix(fname, ".toml"):
		if err := toml.Unmarshal(data, res); err != nil {
			return fmt.Errorf("can't unmarshal toml pivot book %s: %w", fname, err)
		}
	default:
		return fmt.Errorf("unknown config format %s", fname)
	}
	return nil
}

// checkBook validates the Book by ensuring that all pivots have unique non-empty
// names and all three queries set. Collects all problems instead of failing on
// the first one.
func (b *Book) checkBook() error {
	if len(b.Pivots) == 0 {
		return fmt.Errorf("no pivots defined")
	}

	errs := new(multierror.Error)
	names := []string{}
	for i, p := range b.Pivots {
		if p.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("pivot #%d: name is required", i+1))
		}
		if p.Name != "" && stringutils.Contains(strings.ToLower(p.Name), names) {
			errs = multierror.Append(errs, fmt.Errorf("pivot #%d: duplicate name %q", i+1, p.Name))
		}
		names = append(names, strings.ToLower(p.Name))

		if strings.TrimSpace(p.Rows) == "" {
			errs = multierror.Append(errs, fmt.Errorf("pivot %q: rows query is required", p.Name))
		}
		if strings.TrimSpace(p.Columns) == "" {
			errs = multierror.Append(errs, fmt.Errorf("pivot %q: columns query is required", p.Name))
		}
		if strings.TrimSpace(p.Cell) == "" {
			errs = multierror.Append(errs, fmt.Errorf("pivot %q: cell query is required", p.Name))
		}
	}
	return errs.ErrorOrNil()
}

// CreateStatement renders the CREATE VIRTUAL TABLE statement for the pivot,
// using the given module name. Queries are wrapped in parentheses as the module
// expects them.
func (p Pivot) CreateStatement(module string) string {
	return fmt.Sprintf("CREATE VIRTUAL TABLE %s USING %s(\n(%s),\n(%s),\n(%s)\n)",
		pivot.QuoteIdent(p.Name), module, p.Rows, p.Columns, p.Cell)
}

// DropStatement renders the statement removing the pivot table if it exists.
func (p Pivot) DropStatement() string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", pivot.QuoteIdent(p.Name))
}
