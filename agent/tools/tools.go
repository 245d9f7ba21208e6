// Package tools implements the five dataset-analysis tools the agent
// loop offers to the language model: list_datasets,
// get_dataset_schema, execute_sql, execute_query_plan, and
// execute_python. Each tool closes over a small per-call Context value
// (registry, policy gate, executor) passed explicitly by the caller,
// rather than a closure capturing process-wide singletons — the same
// dependency a handler needs is visible in its own signature.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tabularun/tabularun/executor"
	"github.com/tabularun/tabularun/llm"
	"github.com/tabularun/tabularun/policy"
	"github.com/tabularun/tabularun/registry"
	"github.com/tabularun/tabularun/taxonomy"
	"github.com/tabularun/tabularun/types"
)

// Context is the per-call dependency bundle every tool handler
// receives. It is constructed once per agent run (or reused across a
// process, since everything it wraps is itself safe for concurrent
// use) and threaded through explicitly rather than captured by
// closures, so a handler's dependencies are visible at its call site.
type Context struct {
	Registry *registry.Registry
	Gate     *policy.Gate
	Executor executor.Executor

	// TimeoutSeconds, MaxRows, and MaxOutputBytes bound every runner
	// invocation this Context submits; they come from
	// config.SandboxConfig and are fixed for the lifetime of a run.
	TimeoutSeconds int
	MaxRows        int
	MaxOutputBytes int
}

// Handler executes one tool call against raw, schema-validated JSON
// input and returns raw JSON output (or a taxonomy-classified error).
type Handler func(ctx context.Context, tc *Context, input json.RawMessage) (json.RawMessage, error)

// Tool pairs a provider-facing schema with its handler.
type Tool struct {
	Schema  llm.ToolSchema
	Handler Handler

	compiled *jsonschema.Schema
}

// Registry is the fixed set of tools offered to the model, keyed by
// name. Unlike registry.Registry (dataset manifests), this is built
// once at process start from the literal schemas below — there is
// nothing to load from disk.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry compiles every tool's input schema and returns the
// dispatch table the agent loop calls Dispatch against. When
// enablePython is false, execute_python is left out of the tool set
// entirely — the model is never offered it — per
// config.PolicyConfig.EnablePythonExecution.
func NewRegistry(enablePython bool) (*Registry, error) {
	r := &Registry{tools: make(map[string]*Tool, len(allTools))}
	for _, t := range allTools {
		t := t
		if t.Schema.Name == executePythonTool.Schema.Name && !enablePython {
			continue
		}
		compiled, err := compileSchema(t.Schema.Name, t.Schema.InputSchema)
		if err != nil {
			return nil, err
		}
		t.compiled = compiled
		r.tools[t.Schema.Name] = t
		r.order = append(r.order, t.Schema.Name)
	}
	return r, nil
}

// Schemas returns the tool schemas in declaration order, for
// presentation to an llm.Provider.
func (r *Registry) Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Schema)
	}
	return out
}

// Dispatch validates input against the named tool's schema, runs its
// handler, and returns raw JSON output. An unknown tool name or schema
// violation is classified taxonomy.ErrValidation, except that a call to
// execute_python while it is not registered is taxonomy.ErrFeatureDisabled.
func (r *Registry) Dispatch(ctx context.Context, tc *Context, name string, input json.RawMessage) (json.RawMessage, error) {
	t, ok := r.tools[name]
	if !ok {
		if name == executePythonTool.Schema.Name {
			return nil, taxonomy.New(taxonomy.ErrFeatureDisabled, "python execution is disabled for this deployment")
		}
		return nil, taxonomy.Newf(taxonomy.ErrValidation, "unknown tool %q", name)
	}
	if err := validateInput(t.compiled, input); err != nil {
		return nil, taxonomy.Wrap(taxonomy.ErrValidation, fmt.Sprintf("tool %q input", name), err)
	}
	return t.Handler(ctx, tc, input)
}

func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("tools: tool %q schema: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	resource := name + ".json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("tools: tool %q: add schema resource: %w", name, err)
	}
	compiled, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("tools: tool %q: compile schema: %w", name, err)
	}
	return compiled, nil
}

func validateInput(schema *jsonschema.Schema, input json.RawMessage) error {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	var doc any
	if err := json.Unmarshal(input, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return schema.Validate(doc)
}

func toolSchema(name, description string, inputSchema json.RawMessage) llm.ToolSchema {
	return llm.ToolSchema{Name: name, Description: description, InputSchema: inputSchema}
}

var allTools = []*Tool{
	listDatasetsTool,
	getDatasetSchemaTool,
	executeSQLTool,
	executeQueryPlanTool,
	executePythonTool,
}

// DefaultRunnerRequest seeds the sandbox-wide limits common to every
// submission; callers set DatasetID, Files, QueryType, and the SQL or
// PythonCode payload. Exported so the fast path (package agent), which
// bypasses tool dispatch entirely, can build requests identically to
// the tool handlers below.
func DefaultRunnerRequest(tc *Context, datasetID string, files []types.RunnerFile) types.RunnerRequest {
	return types.RunnerRequest{
		DatasetID:      datasetID,
		Files:          files,
		TimeoutSeconds: tc.TimeoutSeconds,
		MaxRows:        tc.MaxRows,
		MaxOutputBytes: tc.MaxOutputBytes,
	}
}

// RunnerFiles projects a dataset descriptor's files into the runner's
// wire shape.
func RunnerFiles(d *types.DatasetDescriptor) []types.RunnerFile {
	out := make([]types.RunnerFile, 0, len(d.Files))
	for _, f := range d.Files {
		out = append(out, types.RunnerFile{Name: f.Name, Path: f.Path})
	}
	return out
}

func submit(ctx context.Context, tc *Context, req *types.RunnerRequest) (*types.RunnerResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, taxonomy.Wrap(taxonomy.ErrValidation, "runner request", err)
	}
	_, resp, err := tc.Executor.Submit(ctx, req)
	if err != nil {
		return nil, taxonomy.Wrap(taxonomy.ErrBackendUnavailable, "executor submit", err)
	}
	return resp, nil
}
