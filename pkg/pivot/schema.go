package pivot

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-pkgz/stringutils"
)

// discover runs the three defining queries and builds the Table: row key
// column names from the row key query, one cell binding per row of the column
// definition query, and the declared schema. Any failure closes everything
// prepared so far, creation is all or nothing.
func discover(db *sql.DB, rowsQuery, colsQuery, cellQuery string) (tbl *Table, err error) {
	tbl = &Table{db: db, scanSQL: wrapQuery(rowsQuery)}
	defer func() {
		if err != nil {
			_ = tbl.release()
		}
	}()

	// the row key query defines the leading columns and their names
	names, err := resultColumns(db, tbl.scanSQL)
	if err != nil {
		return nil, fmt.Errorf("pivot table key query prepare error: %w", err)
	}
	tbl.keyCols = make([]string, len(names))
	for i, name := range names {
		tbl.keyCols[i] = QuoteIdent(name)
	}

	// the cell query template binds every row key value plus the column key
	cellSQL := wrapQuery(cellQuery)
	probe, err := db.Prepare(cellSQL)
	if err != nil {
		return nil, fmt.Errorf("pivot query prepare error: %w", err)
	}
	_ = probe.Close()
	if n := bindParamCount(cellSQL); n-1 != len(tbl.keyCols) {
		return nil, fmt.Errorf("pivot query error: unexpected number of bound parameters, got %d, want %d",
			n, len(tbl.keyCols)+1)
	}

	keys, displayNames, err := readColumnDefs(db, wrapQuery(colsQuery))
	if err != nil {
		return nil, err
	}

	// one lookup statement per pivot column, its trailing parameter is always
	// served from the captured column key
	for _, key := range keys {
		stmt, err := db.Prepare(cellSQL)
		if err != nil {
			return nil, fmt.Errorf("pivot query prepare error: %w", err)
		}
		tbl.cols = append(tbl.cols, cellBinding{stmt: stmt, key: key})
	}

	tbl.schemaSQL = declareSQL(tbl.keyCols, displayNames)
	return tbl, nil
}

// readColumnDefs materializes the column definition query and validates it:
// exactly two result columns, keys pairwise distinct, display names pairwise
// distinct case-insensitively. Returned keys keep their sqlite types for
// binding; names are the text forms used for the declared schema.
func readColumnDefs(db *sql.DB, colSQL string) (keys []any, names []string, err error) {
	rows, err := db.Query(colSQL)
	if err != nil {
		return nil, nil, fmt.Errorf("pivot table column definition query prepare error: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("can't get column definition query columns: %w", err)
	}
	if len(cols) != 2 {
		return nil, nil, fmt.Errorf("pivot table column definition query expects 2 result columns, query contains %d", len(cols))
	}

	var seenKeys, seenNames []string
	for rows.Next() {
		var key, name any
		if err := rows.Scan(&key, &name); err != nil {
			return nil, nil, fmt.Errorf("can't read column definition row: %w", err)
		}
		keyText, nameText := valueText(key), valueText(name)
		if stringutils.Contains(keyText, seenKeys) {
			return nil, nil, fmt.Errorf("pivot table column keys must be unique, duplicate column key %q", keyText)
		}
		if stringutils.Contains(strings.ToLower(nameText), seenNames) {
			return nil, nil, fmt.Errorf("pivot table column names must be unique, duplicate column %q", nameText)
		}
		seenKeys = append(seenKeys, keyText)
		seenNames = append(seenNames, strings.ToLower(nameText))
		keys = append(keys, key)
		names = append(names, nameText)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("pivot table column definition query failed: %w", err)
	}
	return keys, names, nil
}

// resultColumns runs a query and reports its result column names without
// consuming any rows.
func resultColumns(db *sql.DB, query string) ([]string, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return rows.Columns()
}

// declareSQL renders the schema declaration: quoted row key columns in source
// order followed by one column per pivot column.
func declareSQL(keyCols, pivotCols []string) string {
	b := strings.Builder{}
	b.WriteString("CREATE TABLE x(")
	for i, c := range keyCols {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(c)
	}
	for _, c := range pivotCols {
		b.WriteString(",")
		b.WriteString(QuoteIdent(c))
	}
	b.WriteString(")")
	return b.String()
}

// wrapQuery makes a parenthesized creation argument selectable as a plain
// statement; the defining queries arrive as "(SELECT ...)" fragments.
func wrapQuery(q string) string { return "SELECT * FROM \n" + q }

// QuoteIdent makes a double-quoted sqlite identifier, doubling embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// valueText renders a scanned sqlite value the way sqlite renders it as text.
func valueText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
