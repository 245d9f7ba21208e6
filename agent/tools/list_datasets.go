package tools

import (
	"context"
	"encoding/json"
)

var listDatasetsSchema = json.RawMessage(`{
	"type": "object",
	"additionalProperties": false,
	"properties": {}
}`)

type datasetSummary struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	ExamplePrompts []string `json:"example_prompts,omitempty"`
}

var listDatasetsTool = &Tool{
	Schema: toolSchema(
		"list_datasets",
		"List every dataset available for analysis, with its id, display name, and example prompts.",
		listDatasetsSchema,
	),
	Handler: handleListDatasets,
}

func handleListDatasets(_ context.Context, tc *Context, _ json.RawMessage) (json.RawMessage, error) {
	descriptors := tc.Registry.List()
	out := make([]datasetSummary, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, datasetSummary{ID: d.ID, Name: d.Name, ExamplePrompts: d.ExamplePrompts})
	}
	return json.Marshal(out)
}
