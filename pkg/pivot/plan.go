package pivot

import (
	"strings"

	"modernc.org/sqlite/vtab"
)

// defaultRowEstimate is reported for every plan; the row key query is opaque
// so its true selectivity is unknown.
const defaultRowEstimate = 10

// constraintUsage tells sqlite how a single constraint was handled: argIndex
// is the 0-based argv slot for the pushed-down value, -1 when not consumed.
// Consumed constraints are marked omit, sqlite need not re-check them.
type constraintUsage struct {
	argIndex int
	omit     bool
}

// queryPlan is the outcome of planning one scan: the derived row key query
// with pushed-down WHERE/ORDER BY clauses, per-constraint usage, and cost.
type queryPlan struct {
	query         string
	usage         []constraintUsage
	args          int
	orderConsumed bool
	cost          float64
}

// buildPlan derives the filtered row key query for one scan. Only usable
// constraints and order terms addressing row key columns can be pushed down;
// the row key query knows nothing about pivot columns, so anything else is
// left for sqlite to evaluate on the materialized rows. Pure function over
// its inputs, no database access.
func buildPlan(scanSQL string, keyCols []string, constraints []vtab.Constraint, orderBy []vtab.OrderBy) queryPlan {
	plan := queryPlan{usage: make([]constraintUsage, len(constraints))}

	b := strings.Builder{}
	b.WriteString(scanSQL)

	for i, cs := range constraints {
		plan.usage[i].argIndex = -1
		if !cs.Usable || cs.Column < 0 || cs.Column >= len(keyCols) {
			continue // rowid and pivot column constraints stay with sqlite
		}
		op, ok := constraintOp(cs.Op)
		if !ok {
			continue // function-style or unknown operator, sqlite re-checks it
		}
		if plan.args == 0 {
			b.WriteString("\n WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(keyCols[cs.Column])
		b.WriteString(" ")
		b.WriteString(op)
		b.WriteString(" ?")
		plan.usage[i] = constraintUsage{argIndex: plan.args, omit: true}
		plan.args++
	}

	ordered := 0
	for _, ob := range orderBy {
		if ob.Column < 0 || ob.Column >= len(keyCols) {
			continue
		}
		if ordered == 0 {
			b.WriteString("\n ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(keyCols[ob.Column])
		if ob.Desc {
			b.WriteString(" DESC")
		}
		ordered++
	}
	// claim the ordering only when every requested term made it into the
	// derived query, a partially pushed down order is no order at all
	plan.orderConsumed = len(orderBy) > 0 && ordered == len(orderBy)

	plan.query = b.String()
	plan.cost = float64(2147483647) / float64(plan.args+1)
	return plan
}

// constraintOp maps a sqlite constraint operator to its SQL text form. The
// second return is false for operators that can't appear in a WHERE clause as
// "column op ?".
func constraintOp(op vtab.ConstraintOp) (string, bool) {
	switch op {
	case vtab.OpEQ:
		return "=", true
	case vtab.OpLT:
		return "<", true
	case vtab.OpLE:
		return "<=", true
	case vtab.OpGT:
		return ">", true
	case vtab.OpGE:
		return ">=", true
	case vtab.OpNE:
		return "<>", true
	case vtab.OpMATCH:
		return "MATCH", true
	case vtab.OpLIKE:
		return "LIKE", true
	case vtab.OpGLOB:
		return "GLOB", true
	case vtab.OpREGEXP:
		return "REGEXP", true
	case vtab.OpIS, vtab.OpISNULL:
		return "IS", true
	case vtab.OpISNOT, vtab.OpISNOTNULL:
		return "IS NOT", true
	default:
		return "", false
	}
}
