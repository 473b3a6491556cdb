package pivot

import (
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite/vtab"
)

// cursor scans a pivot table: it walks the derived row key query and resolves
// each pivot cell lazily through the table's cell bindings. The row key
// values of the current row are copied out of the result set, they stay valid
// while the scan moves on.
type cursor struct {
	tab   *Table
	rows  *sql.Rows // derived row key query, nil once exhausted or unopened
	key   []any     // row key tuple of the current row
	rowid int64
	done  bool
}

// Filter starts (or restarts) the scan with the query text planned by
// BestIndex, binding vals in the order the planner assigned.
func (c *cursor) Filter(_ int, idxStr string, vals []vtab.Value) error {
	if c.rows != nil { // a rewind drops the previous scan first
		if err := c.rows.Close(); err != nil {
			return fmt.Errorf("can't restart pivot scan: %w", err)
		}
		c.rows = nil
	}
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	rows, err := c.tab.db.Query(idxStr, args...)
	if err != nil {
		return fmt.Errorf("can't run pivot row key query: %w", err)
	}
	c.rows, c.done, c.rowid = rows, false, 1
	return c.advance()
}

// Next moves to the following row of the row key query.
func (c *cursor) Next() error {
	c.rowid++
	return c.advance()
}

// advance steps the underlying result set and captures the new row key tuple.
// On exhaustion the result set is released right away, a drained cursor holds
// no open query.
func (c *cursor) advance() error {
	c.key = nil
	if c.rows == nil {
		c.done = true
		return nil
	}
	if !c.rows.Next() {
		err := c.rows.Err()
		cerr := c.rows.Close()
		c.rows = nil
		c.done = true
		if err != nil {
			return fmt.Errorf("pivot row key query failed: %w", err)
		}
		return cerr
	}
	key := make([]any, len(c.tab.keyCols))
	ptrs := make([]any, len(key))
	for i := range key {
		ptrs[i] = &key[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return fmt.Errorf("can't read pivot row key: %w", err)
	}
	c.key = key
	return nil
}

// Eof reports whether the scan ran off the last row.
func (c *cursor) Eof() bool { return c.done }

// Column reports the value at col for the current row. Row key columns come
// straight from the captured tuple; pivot columns run the cell lookup with
// the tuple values plus the column's key, taking the first column of the
// first result row, or NULL when the lookup yields nothing. Values are never
// memoized, every access re-runs the lookup.
func (c *cursor) Column(col int) (vtab.Value, error) {
	if col < len(c.tab.keyCols) {
		return c.key[col], nil
	}

	binding := c.tab.cols[col-len(c.tab.keyCols)]
	args := make([]any, 0, len(c.key)+1)
	args = append(args, c.key...)
	args = append(args, binding.key)

	rows, err := binding.stmt.Query(args...)
	if err != nil {
		return nil, fmt.Errorf("pivot cell lookup failed: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("pivot cell lookup failed: %w", err)
		}
		return nil, nil
	}
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("pivot cell lookup failed: %w", err)
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("can't read pivot cell: %w", err)
	}
	return vals[0], nil
}

// Rowid reports the synthetic row number of the current scan, starting at 1.
// It carries no stable meaning across scans.
func (c *cursor) Rowid() (int64, error) { return c.rowid, nil }

// Close releases the cursor from any state.
func (c *cursor) Close() error {
	c.key = nil
	c.done = true
	if c.rows == nil {
		return nil
	}
	rows := c.rows
	c.rows = nil
	if err := rows.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("can't close pivot scan: %w", err)
	}
	return nil
}
