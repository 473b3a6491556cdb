// Package pivot implements a pivot virtual table module for modernc.org/sqlite.
//
// A pivot table is defined by three queries: a row key query providing the
// leading columns, a column definition query providing (key, name) pairs for
// the pivot columns, and a cell query template resolving a single value for a
// given row key and column key:
//
//	CREATE VIRTUAL TABLE vals USING pivot(
//	  (SELECT id r_id FROM r),
//	  (SELECT id c_id, name FROM c),
//	  (SELECT val FROM x WHERE r_id = ?1 AND c_id = ?2)
//	);
//
// The table never materializes the full cross product; each cell is resolved
// lazily through a prepared lookup while the cursor walks the row key query.
// The table is read-only.
package pivot

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/hashicorp/go-multierror"
	"modernc.org/sqlite/vtab"
)

// Module implements vtab.Module and builds pivot tables over the captured
// database handle. All discovery and lookup queries run through this handle.
type Module struct {
	db *sql.DB
}

// New makes a pivot module bound to the given database handle.
func New(db *sql.DB) *Module { return &Module{db: db} }

// Register installs a pivot module under the given name. The driver keeps
// module registrations process-global and installs them on new connections,
// so each name can be registered only once per process.
func Register(db *sql.DB, name string) error {
	if err := vtab.RegisterModule(db, name, New(db)); err != nil {
		return fmt.Errorf("can't register pivot module %q: %w", name, err)
	}
	return nil
}

// Create makes a new pivot table instance. SQLite passes the module name,
// database name and table name in args[0:3]; args[3:] are the three defining
// queries in their original, parenthesized form.
func (m *Module) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.connect(ctx, args)
}

// Connect re-attaches to an existing pivot table on a new connection by
// re-running discovery against the current state of the defining queries.
func (m *Module) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.connect(ctx, args)
}

func (m *Module) connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	if len(args) != 6 {
		return nil, fmt.Errorf("pivot table expects 3 arguments (row key query, column definition query, cell query), got %d", len(args)-3)
	}
	tbl, err := discover(m.db, args[3], args[4], args[5])
	if err != nil {
		return nil, err
	}
	if err := ctx.Declare(tbl.schemaSQL); err != nil {
		_ = tbl.release()
		return nil, fmt.Errorf("can't declare pivot table schema: %w", err)
	}
	log.Printf("[DEBUG] pivot table %q connected, %d key columns, %d pivot columns",
		args[2], len(tbl.keyCols), len(tbl.cols))
	return tbl, nil
}

// Table is a single pivot table instance. It owns the cell lookup bindings;
// cursors borrow them for the lifetime of a scan.
type Table struct {
	db        *sql.DB
	scanSQL   string        // row key query wrapped for a full scan
	keyCols   []string      // quoted row key column names
	cols      []cellBinding // one per pivot column, in definition order
	schemaSQL string
}

// cellBinding resolves one pivot column: a reusable prepared lookup plus the
// column key captured at discovery time. The statement takes the row key
// values as leading parameters and the column key as the trailing one.
// Statements are safe for concurrent use, so concurrent cursors over the same
// table can share the bindings.
type cellBinding struct {
	stmt *sql.Stmt
	key  any
}

// BestIndex plans one scan: pushes row key constraints and ordering down into
// a derived row key query carried to Filter as the index string.
func (t *Table) BestIndex(info *vtab.IndexInfo) error {
	plan := buildPlan(t.scanSQL, t.keyCols, info.Constraints, info.OrderBy)
	for i, u := range plan.usage {
		info.Constraints[i].ArgIndex = u.argIndex
		info.Constraints[i].Omit = u.omit
	}
	info.IdxNum = 0
	info.IdxStr = plan.query
	info.OrderByConsumed = plan.orderConsumed
	info.EstimatedCost = plan.cost
	info.EstimatedRows = defaultRowEstimate
	return nil
}

// Open makes a new, unpositioned cursor.
func (t *Table) Open() (vtab.Cursor, error) { return &cursor{tab: t}, nil }

// Disconnect releases the table instance and all its cell bindings.
func (t *Table) Disconnect() error { return t.release() }

// Destroy is called on DROP TABLE, same cleanup as Disconnect.
func (t *Table) Destroy() error { return t.release() }

// Rename accepts the new name and keeps the table as is, a pivot table has no
// name-dependent state.
func (t *Table) Rename(string) error { return nil }

// release closes every cell lookup statement, attempting all of them even if
// some fail.
func (t *Table) release() error {
	errs := new(multierror.Error)
	for _, c := range t.cols {
		if c.stmt == nil {
			continue
		}
		if err := c.stmt.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	t.cols = nil
	return errs.ErrorOrNil()
}
