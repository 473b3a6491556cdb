package pivot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"modernc.org/sqlite/vtab"
)

func TestBuildPlan_NoConstraints(t *testing.T) {
	plan := buildPlan("SELECT * FROM \n(SELECT id r_id FROM r)", []string{`"r_id"`}, nil, nil)
	assert.Equal(t, "SELECT * FROM \n(SELECT id r_id FROM r)", plan.query)
	assert.Equal(t, 0, plan.args)
	assert.False(t, plan.orderConsumed)
	assert.Empty(t, plan.usage)
}

func TestBuildPlan_Constraints(t *testing.T) {
	keyCols := []string{`"r_id"`, `"grp"`}

	tbl := []struct {
		name        string
		constraints []vtab.Constraint
		query       string
		usage       []constraintUsage
	}{
		{
			name:        "eq on key column",
			constraints: []vtab.Constraint{{Column: 0, Op: vtab.OpEQ, Usable: true}},
			query:       "base\n WHERE \"r_id\" = ?",
			usage:       []constraintUsage{{argIndex: 0, omit: true}},
		},
		{
			name: "two key columns",
			constraints: []vtab.Constraint{
				{Column: 0, Op: vtab.OpGT, Usable: true},
				{Column: 1, Op: vtab.OpLE, Usable: true},
			},
			query: "base\n WHERE \"r_id\" > ? AND \"grp\" <= ?",
			usage: []constraintUsage{{argIndex: 0, omit: true}, {argIndex: 1, omit: true}},
		},
		{
			name:        "pivot column left to sqlite",
			constraints: []vtab.Constraint{{Column: 2, Op: vtab.OpEQ, Usable: true}},
			query:       "base",
			usage:       []constraintUsage{{argIndex: -1}},
		},
		{
			name:        "unusable constraint skipped",
			constraints: []vtab.Constraint{{Column: 0, Op: vtab.OpEQ, Usable: false}},
			query:       "base",
			usage:       []constraintUsage{{argIndex: -1}},
		},
		{
			name:        "rowid constraint skipped",
			constraints: []vtab.Constraint{{Column: -1, Op: vtab.OpEQ, Usable: true}},
			query:       "base",
			usage:       []constraintUsage{{argIndex: -1}},
		},
		{
			name:        "function operator not consumed",
			constraints: []vtab.Constraint{{Column: 0, Op: vtab.OpFUNCTION, Usable: true}},
			query:       "base",
			usage:       []constraintUsage{{argIndex: -1}},
		},
		{
			name: "mix keeps argv order",
			constraints: []vtab.Constraint{
				{Column: 1, Op: vtab.OpNE, Usable: true},
				{Column: 3, Op: vtab.OpEQ, Usable: true},
				{Column: 0, Op: vtab.OpLIKE, Usable: true},
			},
			query: "base\n WHERE \"grp\" <> ? AND \"r_id\" LIKE ?",
			usage: []constraintUsage{{argIndex: 0, omit: true}, {argIndex: -1}, {argIndex: 1, omit: true}},
		},
		{
			name:        "null test uses IS",
			constraints: []vtab.Constraint{{Column: 0, Op: vtab.OpISNULL, Usable: true}},
			query:       "base\n WHERE \"r_id\" IS ?",
			usage:       []constraintUsage{{argIndex: 0, omit: true}},
		},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			plan := buildPlan("base", keyCols, tt.constraints, nil)
			assert.Equal(t, tt.query, plan.query)
			assert.Equal(t, tt.usage, plan.usage)
		})
	}
}

func TestBuildPlan_OrderBy(t *testing.T) {
	keyCols := []string{`"r_id"`, `"grp"`}

	t.Run("all terms eligible", func(t *testing.T) {
		plan := buildPlan("base", keyCols, nil, []vtab.OrderBy{{Column: 1, Desc: true}, {Column: 0}})
		assert.Equal(t, "base\n ORDER BY \"grp\" DESC, \"r_id\"", plan.query)
		assert.True(t, plan.orderConsumed)
	})

	t.Run("mixed terms not consumed", func(t *testing.T) {
		// the pivot column term can't be pushed down, so the ordering must not
		// be reported satisfied even though the eligible term is still emitted
		plan := buildPlan("base", keyCols, nil, []vtab.OrderBy{{Column: 0}, {Column: 2}})
		assert.Equal(t, "base\n ORDER BY \"r_id\"", plan.query)
		assert.False(t, plan.orderConsumed)
	})

	t.Run("no eligible terms", func(t *testing.T) {
		plan := buildPlan("base", keyCols, nil, []vtab.OrderBy{{Column: 3}})
		assert.Equal(t, "base", plan.query)
		assert.False(t, plan.orderConsumed)
	})
}

func TestBuildPlan_Cost(t *testing.T) {
	keyCols := []string{`"r_id"`}
	full := buildPlan("base", keyCols, nil, nil)
	filtered := buildPlan("base", keyCols, []vtab.Constraint{{Column: 0, Op: vtab.OpEQ, Usable: true}}, nil)
	assert.Less(t, filtered.cost, full.cost, "pushed-down predicates make the plan cheaper")
}

func TestConstraintOp(t *testing.T) {
	tbl := []struct {
		op   vtab.ConstraintOp
		text string
		ok   bool
	}{
		{vtab.OpEQ, "=", true},
		{vtab.OpLT, "<", true},
		{vtab.OpLE, "<=", true},
		{vtab.OpGT, ">", true},
		{vtab.OpGE, ">=", true},
		{vtab.OpNE, "<>", true},
		{vtab.OpMATCH, "MATCH", true},
		{vtab.OpLIKE, "LIKE", true},
		{vtab.OpGLOB, "GLOB", true},
		{vtab.OpREGEXP, "REGEXP", true},
		{vtab.OpIS, "IS", true},
		{vtab.OpISNULL, "IS", true},
		{vtab.OpISNOT, "IS NOT", true},
		{vtab.OpISNOTNULL, "IS NOT", true},
		{vtab.OpFUNCTION, "", false},
		{vtab.OpLIMIT, "", false},
		{vtab.OpOFFSET, "", false},
		{vtab.OpUnknown, "", false},
	}
	for _, tt := range tbl {
		text, ok := constraintOp(tt.op)
		assert.Equal(t, tt.text, text)
		assert.Equal(t, tt.ok, ok)
	}
}
