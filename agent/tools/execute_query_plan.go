package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tabularun/tabularun/taxonomy"
	"github.com/tabularun/tabularun/types"
)

var executeQueryPlanSchema = json.RawMessage(`{
	"type": "object",
	"additionalProperties": false,
	"required": ["dataset_id", "plan"],
	"properties": {
		"dataset_id": {"type": "string", "minLength": 1},
		"plan": {"type": "object"}
	}
}`)

type executeQueryPlanInput struct {
	DatasetID string          `json:"dataset_id"`
	Plan      json.RawMessage `json:"plan"`
}

var executeQueryPlanTool = &Tool{
	Schema: toolSchema(
		"execute_query_plan",
		"Run a structured query plan (table, select list, filters, group_by, order_by, limit) against one dataset. Prefer this over execute_sql when the question maps cleanly onto filter/aggregate/sort, since the plan compiler can reason about identifiers and bound the result size.",
		executeQueryPlanSchema,
	),
	Handler: handleExecuteQueryPlan,
}

func handleExecuteQueryPlan(ctx context.Context, tc *Context, input json.RawMessage) (json.RawMessage, error) {
	var in executeQueryPlanInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, taxonomy.Wrap(taxonomy.ErrValidation, "execute_query_plan input", err)
	}
	d, ok := tc.Registry.Get(in.DatasetID)
	if !ok {
		return nil, taxonomy.Newf(taxonomy.ErrValidation, "unknown dataset %q", in.DatasetID)
	}

	var plan types.QueryPlan
	if err := json.Unmarshal(in.Plan, &plan); err != nil {
		return nil, taxonomy.Wrap(taxonomy.ErrPlanValidation, "plan shape", err)
	}
	if plan.DatasetID == "" {
		plan.DatasetID = in.DatasetID
	}

	compiled, err := tc.Gate.CheckPlan(&plan, d)
	if err != nil {
		return nil, err
	}

	// CompiledPlan.SQL carries "?" placeholders paired with Args, the
	// shape database/sql drivers expect — but RunnerRequest.SQL is a
	// bare literal string handed to the sandboxed runner, with no
	// separate params channel. renderLiteralSQL substitutes each
	// placeholder with its already-validated Args[i] rendered as a SQL
	// literal, so the runner still receives one self-contained
	// statement.
	literalSQL, err := renderLiteralSQL(compiled.SQL, compiled.Args)
	if err != nil {
		return nil, taxonomy.Wrap(taxonomy.ErrPlanValidation, "render compiled plan", err)
	}

	req := DefaultRunnerRequest(tc, in.DatasetID, RunnerFiles(d))
	req.QueryType = types.QueryTypeSQL
	req.SQL = literalSQL

	resp, err := submit(ctx, tc, &req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

// renderLiteralSQL replaces each "?" placeholder in sql, in order,
// with the SQL-literal rendering of the corresponding arg. The
// compiler (package policy) only ever emits "?" as a placeholder —
// every identifier is double-quoted and no user string is ever
// embedded literally — so a plain left-to-right split is exact, not a
// heuristic.
func renderLiteralSQL(sql string, args []any) (string, error) {
	parts := strings.Split(sql, "?")
	if len(parts)-1 != len(args) {
		return "", fmt.Errorf("placeholder count %d does not match arg count %d", len(parts)-1, len(args))
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for i, arg := range args {
		lit, err := sqlLiteral(arg)
		if err != nil {
			return "", err
		}
		b.WriteString(lit)
		b.WriteString(parts[i+1])
	}
	return b.String(), nil
}

func sqlLiteral(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'", nil
	case bool:
		if val {
			return "TRUE", nil
		}
		return "FALSE", nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case json.Number:
		return val.String(), nil
	default:
		return "", fmt.Errorf("unsupported filter value type %T", v)
	}
}
