package tools

import (
	"context"
	"encoding/json"

	"github.com/tabularun/tabularun/taxonomy"
	"github.com/tabularun/tabularun/types"
)

var executePythonSchema = json.RawMessage(`{
	"type": "object",
	"additionalProperties": false,
	"required": ["dataset_id", "python_code"],
	"properties": {
		"dataset_id": {"type": "string", "minLength": 1},
		"python_code": {"type": "string", "minLength": 1}
	}
}`)

type executePythonInput struct {
	DatasetID  string `json:"dataset_id"`
	PythonCode string `json:"python_code"`
}

var executePythonTool = &Tool{
	Schema: toolSchema(
		"execute_python",
		"Run a pandas/Python analysis program against one dataset's files, for questions SQL can't express cleanly. Subject to an AST policy check and a hardened sandbox; may be disabled entirely by deployment configuration.",
		executePythonSchema,
	),
	Handler: handleExecutePython,
}

func handleExecutePython(ctx context.Context, tc *Context, input json.RawMessage) (json.RawMessage, error) {
	var in executePythonInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, taxonomy.Wrap(taxonomy.ErrValidation, "execute_python input", err)
	}
	d, ok := tc.Registry.Get(in.DatasetID)
	if !ok {
		return nil, taxonomy.Newf(taxonomy.ErrValidation, "unknown dataset %q", in.DatasetID)
	}

	if err := tc.Gate.CheckPython(in.PythonCode); err != nil {
		return nil, err
	}

	req := DefaultRunnerRequest(tc, in.DatasetID, RunnerFiles(d))
	req.QueryType = types.QueryTypePython
	req.PythonCode = in.PythonCode

	resp, err := submit(ctx, tc, &req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}
