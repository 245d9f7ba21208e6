package tools

import (
	"context"
	"encoding/json"

	"github.com/tabularun/tabularun/taxonomy"
	"github.com/tabularun/tabularun/types"
)

var executeSQLSchema = json.RawMessage(`{
	"type": "object",
	"additionalProperties": false,
	"required": ["dataset_id", "sql"],
	"properties": {
		"dataset_id": {"type": "string", "minLength": 1},
		"sql": {"type": "string", "minLength": 1}
	}
}`)

type executeSQLInput struct {
	DatasetID string `json:"dataset_id"`
	SQL       string `json:"sql"`
}

var executeSQLTool = &Tool{
	Schema: toolSchema(
		"execute_sql",
		"Run a literal, read-only SELECT statement against one dataset's tables and return the resulting rows. Rejected by policy if it writes, references unknown tables, or is otherwise disallowed.",
		executeSQLSchema,
	),
	Handler: handleExecuteSQL,
}

func handleExecuteSQL(ctx context.Context, tc *Context, input json.RawMessage) (json.RawMessage, error) {
	var in executeSQLInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, taxonomy.Wrap(taxonomy.ErrValidation, "execute_sql input", err)
	}
	d, ok := tc.Registry.Get(in.DatasetID)
	if !ok {
		return nil, taxonomy.Newf(taxonomy.ErrValidation, "unknown dataset %q", in.DatasetID)
	}

	normalized, err := tc.Gate.CheckSQL(in.SQL, in.DatasetID)
	if err != nil {
		return nil, err
	}

	req := DefaultRunnerRequest(tc, in.DatasetID, RunnerFiles(d))
	req.QueryType = types.QueryTypeSQL
	req.SQL = normalized

	resp, err := submit(ctx, tc, &req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}
