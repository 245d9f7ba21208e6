package policy

import (
	"fmt"
	"strings"

	"github.com/tabularun/tabularun/taxonomy"
	"github.com/tabularun/tabularun/types"
)

// CompilerLimits bounds the structured-plan compiler's behavior; values
// come from config.PolicyConfig so they are deployment-tunable rather
// than hardcoded, per the "exfiltration heuristic thresholds must be
// chosen per deployment" design note.
type CompilerLimits struct {
	DefaultLimit         int
	MaxLimit             int
	ExfilColumnThreshold int
}

// DefaultCompilerLimits matches the values config.ApplyDefaults sets.
func DefaultCompilerLimits() CompilerLimits {
	return CompilerLimits{DefaultLimit: 200, MaxLimit: 1000, ExfilColumnThreshold: 8}
}

// CompiledPlan is the deterministic output of compiling a QueryPlan:
// parameterized SQL text plus its positional arguments, in the order
// the placeholders appear.
type CompiledPlan struct {
	SQL  string
	Args []any
}

// CompilePlan validates p against ds's schema and deterministically
// compiles it to a single SELECT/WITH statement. Compiling the same
// plan twice yields byte-identical output.
func CompilePlan(p *types.QueryPlan, ds *types.DatasetDescriptor, limits CompilerLimits) (*CompiledPlan, error) {
	if err := p.ValidateShape(); err != nil {
		return nil, taxonomy.Wrap(taxonomy.ErrPlanValidation, "invalid plan shape", err)
	}

	cols := ds.ColumnNames(p.Table)
	if cols == nil {
		return nil, taxonomy.Newf(taxonomy.ErrPlanValidation, "unknown table %q in dataset %q", p.Table, ds.ID)
	}
	colSet := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		colSet[strings.ToLower(c)] = struct{}{}
	}
	checkCol := func(col string) error {
		if col == "*" {
			return nil
		}
		if _, ok := colSet[strings.ToLower(col)]; !ok {
			return taxonomy.Newf(taxonomy.ErrPlanValidation, "unknown column %q in table %q", col, p.Table)
		}
		return nil
	}

	selectSQL, aggregated, err := compileSelect(p, checkCol)
	if err != nil {
		return nil, err
	}
	if err := checkAggregationRule(p, aggregated); err != nil {
		return nil, err
	}
	if err := checkExfiltration(p, limits); err != nil {
		return nil, err
	}

	var args []any
	whereSQL, whereArgs, err := compileFilters(p.Filters, checkCol)
	if err != nil {
		return nil, err
	}
	args = append(args, whereArgs...)

	groupBySQL, err := compileGroupBy(p.GroupBy, checkCol)
	if err != nil {
		return nil, err
	}

	orderBySQL, err := compileOrderBy(p.OrderBy, checkCol)
	if err != nil {
		return nil, err
	}

	limit := p.Limit
	if limit <= 0 {
		limit = limits.DefaultLimit
	}
	if limit > limits.MaxLimit {
		limit = limits.MaxLimit
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectSQL)
	b.WriteString(" FROM ")
	b.WriteString(quoteIdent(p.Table))
	if whereSQL != "" {
		b.WriteString(" WHERE ")
		b.WriteString(whereSQL)
	}
	if groupBySQL != "" {
		b.WriteString(" GROUP BY ")
		b.WriteString(groupBySQL)
	}
	if orderBySQL != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderBySQL)
	}
	fmt.Fprintf(&b, " LIMIT %d", limit)

	return &CompiledPlan{SQL: b.String(), Args: args}, nil
}

func compileSelect(p *types.QueryPlan, checkCol func(string) error) (string, bool, error) {
	if p.IsSelectStar() {
		return "*", false, nil
	}
	parts := make([]string, 0, len(p.Select))
	aggregated := false
	for _, item := range p.Select {
		if item.IsAggregate() {
			aggregated = true
			if err := checkCol(item.AggColumn); err != nil {
				return "", false, err
			}
			col := "*"
			if item.AggColumn != "*" {
				col = quoteIdent(item.AggColumn)
			}
			fn := strings.ToUpper(string(item.Fn))
			if item.Fn == types.AggCountDistinct {
				parts = append(parts, fmt.Sprintf("COUNT(DISTINCT %s) AS %s", col, quoteIdent(item.OutputName())))
			} else {
				parts = append(parts, fmt.Sprintf("%s(%s) AS %s", fn, col, quoteIdent(item.OutputName())))
			}
			continue
		}
		if err := checkCol(item.Column); err != nil {
			return "", false, err
		}
		if item.Alias != "" {
			parts = append(parts, fmt.Sprintf("%s AS %s", quoteIdent(item.Column), quoteIdent(item.Alias)))
		} else {
			parts = append(parts, quoteIdent(item.Column))
		}
	}
	return strings.Join(parts, ", "), aggregated, nil
}

func checkAggregationRule(p *types.QueryPlan, aggregated bool) error {
	if !aggregated {
		return nil
	}
	grouped := make(map[string]struct{}, len(p.GroupBy))
	for _, g := range p.GroupBy {
		grouped[strings.ToLower(g)] = struct{}{}
	}
	for _, item := range p.Select {
		if item.IsAggregate() {
			continue
		}
		if _, ok := grouped[strings.ToLower(item.Column)]; !ok {
			return taxonomy.Newf(taxonomy.ErrPlanValidation,
				"non-aggregated column %q must appear in group_by", item.Column)
		}
	}
	return nil
}

// checkExfiltration rejects unbounded full-table reads: no aggregation,
// no explicit limit, and either select-star or more columns than the
// configured threshold.
func checkExfiltration(p *types.QueryPlan, limits CompilerLimits) error {
	if p.HasAggregate() || p.Limit > 0 {
		return nil
	}
	if p.IsSelectStar() || len(p.Select) > limits.ExfilColumnThreshold {
		return taxonomy.New(taxonomy.ErrExfilHeuristic,
			"unbounded selection without aggregation or explicit limit")
	}
	return nil
}

func compileFilters(filters []types.PlanFilter, checkCol func(string) error) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	var clauses []string
	var args []any
	for _, f := range filters {
		if err := checkCol(f.Column); err != nil {
			return "", nil, err
		}
		clause, clauseArgs, err := compileFilter(f)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}
	return strings.Join(clauses, " AND "), args, nil
}

func compileFilter(f types.PlanFilter) (string, []any, error) {
	col := quoteIdent(f.Column)
	switch f.Op {
	case types.OpEq, types.OpNeq, types.OpLt, types.OpLte, types.OpGt, types.OpGte:
		return fmt.Sprintf("%s %s ?", col, string(f.Op)), []any{f.Value}, nil
	case types.OpIsNull:
		return fmt.Sprintf("%s IS NULL", col), nil, nil
	case types.OpIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", col), nil, nil
	case types.OpIn:
		vals, ok := f.Value.([]any)
		if !ok || len(vals) == 0 {
			return "", nil, taxonomy.Newf(taxonomy.ErrPlanValidation, "filter on %q: op=in requires a non-empty list", f.Column)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
		return fmt.Sprintf("%s IN (%s)", col, placeholders), vals, nil
	case types.OpBetween:
		vals, ok := f.Value.([]any)
		if !ok || len(vals) != 2 {
			return "", nil, taxonomy.Newf(taxonomy.ErrPlanValidation, "filter on %q: op=between requires a 2-element list", f.Column)
		}
		return fmt.Sprintf("%s BETWEEN ? AND ?", col), vals, nil
	case types.OpContains, types.OpStartsWith, types.OpEndsWith:
		s, ok := f.Value.(string)
		if !ok {
			return "", nil, taxonomy.Newf(taxonomy.ErrPlanValidation, "filter on %q: op=%s requires a string value", f.Column, f.Op)
		}
		escaped := escapeLike(s)
		var pattern string
		switch f.Op {
		case types.OpContains:
			pattern = "%" + escaped + "%"
		case types.OpStartsWith:
			pattern = escaped + "%"
		case types.OpEndsWith:
			pattern = "%" + escaped
		}
		return fmt.Sprintf(`%s LIKE ? ESCAPE '\'`, col), []any{pattern}, nil
	default:
		return "", nil, taxonomy.Newf(taxonomy.ErrPlanValidation, "unsupported filter op %q", f.Op)
	}
}

// escapeLike escapes LIKE metacharacters so user-supplied substrings
// can never widen the match pattern.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func compileGroupBy(cols []string, checkCol func(string) error) (string, error) {
	if len(cols) == 0 {
		return "", nil
	}
	parts := make([]string, len(cols))
	for i, c := range cols {
		if err := checkCol(c); err != nil {
			return "", err
		}
		parts[i] = quoteIdent(c)
	}
	return strings.Join(parts, ", "), nil
}

func compileOrderBy(items []types.OrderBy, checkCol func(string) error) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	parts := make([]string, len(items))
	for i, o := range items {
		if err := checkCol(o.Column); err != nil {
			return "", err
		}
		dir := "ASC"
		if o.Dir == types.OrderDesc {
			dir = "DESC"
		}
		parts[i] = fmt.Sprintf("%s %s", quoteIdent(o.Column), dir)
	}
	return strings.Join(parts, ", "), nil
}

func quoteIdent(ident string) string {
	if ident == "*" {
		return ident
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
