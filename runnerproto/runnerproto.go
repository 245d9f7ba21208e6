// Package runnerproto implements the runner protocol: the single JSON
// document read from the runner process's standard input and the single
// JSON document written to its standard output, plus the output-shaping
// and truncation rules that keep a response within its declared bounds.
package runnerproto

import (
	"encoding/json"
	"fmt"

	"github.com/tabularun/tabularun/taxonomy"
	"github.com/tabularun/tabularun/types"
)

// Encode writes req as the single JSON document the runner process
// expects on standard input.
func Encode(req *types.RunnerRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("runnerproto: encode: %w", err)
	}
	return json.Marshal(req)
}

// Decode reads the single JSON document a runner process wrote to
// standard output. A decode failure here is always classified as
// RUNNER_INTERNAL_ERROR: absence of a valid document on stdout is, per
// the protocol, the only signal of a transport-level failure (the
// runner's exit code is always 0).
func Decode(stdout []byte) (*types.RunnerResponse, error) {
	var resp types.RunnerResponse
	if err := json.Unmarshal(stdout, &resp); err != nil {
		return nil, taxonomy.Wrap(taxonomy.ErrRunnerInternal, "no valid JSON document on stdout", err)
	}
	switch resp.Status {
	case types.RunnerResultSuccess, types.RunnerResultError, types.RunnerResultTimeout:
	default:
		return nil, taxonomy.Newf(taxonomy.ErrRunnerInternal, "runner response: invalid status %q", resp.Status)
	}
	return &resp, nil
}
