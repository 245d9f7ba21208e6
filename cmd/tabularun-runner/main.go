// Command tabularun-runner is the process baked into the runner image
// and invoked once per run by every executor backend (local-container,
// remote-sandbox, cluster-job). It reads one types.RunnerRequest
// document from standard input, executes it against the CSV files
// mounted read-only at /data, and writes one types.RunnerResponse
// document to standard output.
//
// Per the runner protocol this process always exits 0: a transport
// failure is signaled by the absence of a valid JSON document on
// stdout, never by the exit code, so every error path here still
// produces a response document rather than a non-zero exit.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/tabularun/tabularun/taxonomy"
	"github.com/tabularun/tabularun/types"
)

func main() {
	resp := execute(context.Background(), os.Stdin)
	b, err := json.Marshal(resp)
	if err != nil {
		b, _ = json.Marshal(types.NewErrorResponse(types.RunnerResultError,
			taxonomy.ErrRunnerInternal.String(), "encoding response: "+err.Error()))
	}
	os.Stdout.Write(b)
}

// execute is main's body, factored out so it never depends on
// os.Stdin/os.Exit directly and always returns a response rather than
// propagating an error.
func execute(parent context.Context, stdin io.Reader) *types.RunnerResponse {
	req, err := decodeRequest(stdin)
	if err != nil {
		return types.NewErrorResponse(types.RunnerResultError, taxonomy.ErrRunnerInternal.String(), err.Error())
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	resp, runErr := dispatch(ctx, req)
	elapsed := time.Since(start).Milliseconds()

	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			out := types.NewErrorResponse(types.RunnerResultTimeout, taxonomy.ErrRunnerTimeout.String(),
				fmt.Sprintf("execution exceeded %s", timeout))
			out.ExecTimeMs = elapsed
			return out
		}
		out := types.NewErrorResponse(types.RunnerResultError, errorKind(req.QueryType), runErr.Error())
		out.ExecTimeMs = elapsed
		return out
	}

	resp.Status = types.RunnerResultSuccess
	resp.ExecTimeMs = elapsed
	return resp
}

// decodeRequest reads and validates the single request document.
func decodeRequest(r io.Reader) (*types.RunnerRequest, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading request: %w", err)
	}
	var req types.RunnerRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

func dispatch(ctx context.Context, req *types.RunnerRequest) (*types.RunnerResponse, error) {
	switch req.QueryType {
	case types.QueryTypeSQL:
		return runSQL(ctx, req)
	case types.QueryTypePython:
		return runPython(ctx, req)
	default:
		return nil, fmt.Errorf("unknown query_type %q", req.QueryType)
	}
}

func errorKind(qt types.QueryType) string {
	if qt == types.QueryTypePython {
		return taxonomy.ErrPythonExecution.String()
	}
	return taxonomy.ErrRunnerInternal.String()
}

// runSQL mounts every dataset file as a read-only DuckDB view over its
// CSV contents and runs req.SQL against an in-process database. No
// on-disk database file is ever created; everything lives in the
// runner process's own memory for the lifetime of the request.
func runSQL(ctx context.Context, req *types.RunnerRequest) (*types.RunnerResponse, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	defer db.Close()

	for _, f := range req.Files {
		stmt := fmt.Sprintf("CREATE VIEW %s AS SELECT * FROM read_csv_auto(%s)",
			quoteIdent(f.Name), quoteLiteral(f.Path))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("mounting dataset file %q: %w", f.Name, err)
		}
	}

	rows, err := db.QueryContext(ctx, req.SQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRows(rows)
}

func scanRows(rows *sql.Rows) (*types.RunnerResponse, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	out := &types.RunnerResponse{Columns: cols, Rows: [][]types.Cell{}}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]types.Cell, len(cols))
		for i, v := range values {
			row[i] = normalizeCell(v)
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out.RowCount = len(out.Rows)
	return out, nil
}

// normalizeCell converts a database/sql scan value into the JSON
// scalar the runner protocol carries; []byte (DuckDB's representation
// for TEXT/VARCHAR columns) becomes a string.
func normalizeCell(v any) types.Cell {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// runPython runs req.PythonCode, already policy-checked upstream by
// policy.Gate.CheckPython, inside a wrapper script piped to an
// isolated interpreter over stdin: -I disables user/environment
// config and -S skips site initialization, and "-" reads the program
// from standard input rather than a file, so nothing is ever written
// to the sandbox's noexec /tmp.
func runPython(ctx context.Context, req *types.RunnerRequest) (*types.RunnerResponse, error) {
	script := buildPythonScript(req)

	cmd := exec.CommandContext(ctx, "python3", "-I", "-S", "-")
	cmd.Stdin = strings.NewReader(script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, ctx.Err()
	}

	result, perr := extractPythonResult(stdout.Bytes())
	if perr != nil {
		if runErr != nil {
			return nil, fmt.Errorf("python process failed: %w (stderr: %s)", runErr, firstLine(stderr.Bytes()))
		}
		return nil, perr
	}
	if result.Error != "" {
		return nil, fmt.Errorf("python program: %s", result.Error)
	}

	return &types.RunnerResponse{
		Columns:     result.Columns,
		Rows:        result.Rows,
		StdoutTrunc: stripResultMarkers(stdout.String()),
		StderrTrunc: stderr.String(),
	}, nil
}

const (
	pythonResultStart = "__TABULARUN_RESULT_START__"
	pythonResultEnd   = "__TABULARUN_RESULT_END__"
)

type pythonResult struct {
	Columns []string      `json:"columns"`
	Rows    [][]types.Cell `json:"rows"`
	Error   string        `json:"error"`
}

// extractPythonResult pulls the single JSON document the wrapper
// script prints between its result markers, ignoring any stray output
// the user's program wrote to stdout before or after it.
func extractPythonResult(stdout []byte) (*pythonResult, error) {
	start := bytes.Index(stdout, []byte(pythonResultStart))
	end := bytes.Index(stdout, []byte(pythonResultEnd))
	if start < 0 || end < 0 || end < start {
		return nil, fmt.Errorf("no result document on stdout")
	}
	payload := stdout[start+len(pythonResultStart) : end]
	var r pythonResult
	if err := json.Unmarshal(bytes.TrimSpace(payload), &r); err != nil {
		return nil, fmt.Errorf("decoding result document: %w", err)
	}
	return &r, nil
}

func stripResultMarkers(stdout string) string {
	if i := strings.Index(stdout, pythonResultStart); i >= 0 {
		return stdout[:i]
	}
	return stdout
}

// pythonHarness wraps the submitted program: it loads every dataset
// file into a pandas DataFrame bound to its declared table name, runs
// the user's code, then serializes whichever of result / result_df /
// result_rows the program set (the same variable names policy.Gate's
// Python check requires be assigned) to the tabular shape the runner
// protocol carries.
const pythonHarness = `
import json as _tabularun_json
import pandas as pd
import numpy as np
import math
import statistics
import re
import datetime

%s

%s

_tabularun_result = None
for _tabularun_name in ("result", "result_df", "result_rows"):
    if _tabularun_name in globals():
        _tabularun_result = globals()[_tabularun_name]
        break

if _tabularun_result is None:
    _tabularun_out = {"error": "no_result"}
elif isinstance(_tabularun_result, pd.DataFrame):
    _tabularun_df = _tabularun_result.astype(object).where(pd.notnull(_tabularun_result), None)
    _tabularun_out = {"columns": list(_tabularun_df.columns), "rows": _tabularun_df.values.tolist()}
elif isinstance(_tabularun_result, list) and _tabularun_result and isinstance(_tabularun_result[0], dict):
    _tabularun_cols = list(_tabularun_result[0].keys())
    _tabularun_out = {
        "columns": _tabularun_cols,
        "rows": [[_tabularun_row.get(_tabularun_col) for _tabularun_col in _tabularun_cols] for _tabularun_row in _tabularun_result],
    }
elif isinstance(_tabularun_result, list):
    _tabularun_out = {"columns": ["value"], "rows": [[_tabularun_v] for _tabularun_v in _tabularun_result]}
else:
    _tabularun_out = {"columns": ["value"], "rows": [[_tabularun_result]]}

print("` + pythonResultStart + `")
print(_tabularun_json.dumps(_tabularun_out, default=str))
print("` + pythonResultEnd + `")
`

func buildPythonScript(req *types.RunnerRequest) string {
	var loads strings.Builder
	for _, f := range req.Files {
		fmt.Fprintf(&loads, "%s = pd.read_csv(%s)\n", pyIdent(f.Name), pyLiteral(f.Path))
	}
	return fmt.Sprintf(pythonHarness, loads.String(), req.PythonCode)
}

// pyIdent turns a dataset file name into a safe Python identifier: the
// policy-checked user program references tables by these names
// directly (e.g. `orders.groupby(...)`), so the mapping must be
// predictable.
func pyIdent(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_table"
	}
	return b.String()
}

func pyLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func firstLine(b []byte) string {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		if len(b) > 200 {
			return string(b[:200])
		}
		return string(b)
	}
	if i > 200 {
		i = 200
	}
	return string(b[:i])
}
