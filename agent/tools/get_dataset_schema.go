package tools

import (
	"context"
	"encoding/json"

	"github.com/tabularun/tabularun/taxonomy"
)

var getDatasetSchemaSchema = json.RawMessage(`{
	"type": "object",
	"additionalProperties": false,
	"required": ["dataset_id"],
	"properties": {
		"dataset_id": {"type": "string", "minLength": 1}
	}
}`)

type getDatasetSchemaInput struct {
	DatasetID string `json:"dataset_id"`
}

type columnSchemaOut struct {
	Column string `json:"column"`
	Type   string `json:"type"`
}

type fileSchemaOut struct {
	Name   string            `json:"name"`
	Schema []columnSchemaOut `json:"schema"`
}

type datasetSchemaOut struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Files       []fileSchemaOut `json:"files"`
	VersionHash string          `json:"version_hash"`
}

var getDatasetSchemaTool = &Tool{
	Schema: toolSchema(
		"get_dataset_schema",
		"Return the table/column schema for one dataset, so a query can be planned against real column names and types.",
		getDatasetSchemaSchema,
	),
	Handler: handleGetDatasetSchema,
}

func handleGetDatasetSchema(_ context.Context, tc *Context, input json.RawMessage) (json.RawMessage, error) {
	var in getDatasetSchemaInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, taxonomy.Wrap(taxonomy.ErrValidation, "get_dataset_schema input", err)
	}
	d, ok := tc.Registry.Get(in.DatasetID)
	if !ok {
		return nil, taxonomy.Newf(taxonomy.ErrValidation, "unknown dataset %q", in.DatasetID)
	}

	out := datasetSchemaOut{ID: d.ID, Name: d.Name, VersionHash: d.VersionHash}
	for _, f := range d.Files {
		fo := fileSchemaOut{Name: f.Name}
		for _, c := range f.Schema {
			fo.Schema = append(fo.Schema, columnSchemaOut{Column: c.Column, Type: c.Type})
		}
		out.Files = append(out.Files, fo)
	}
	return json.Marshal(out)
}
