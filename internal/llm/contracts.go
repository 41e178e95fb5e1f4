package llm

import (
	"context"
	"encoding/json"
)

// CarFields is the normalized shape we want from the model.
type CarFields struct {
	Make  string `json:"make"`
	Model string `json:"model"`
}

// Completer is the inference client the pipeline depends on.
type Completer interface {
	// Ready reports a configuration error (e.g. a missing credential) without any network call.
	Ready() error
	// Complete sends one instruction plus one inline image and returns the raw response body.
	Complete(ctx context.Context, instruction, dataURI string) ([]byte, error)
}

// ResultKind separates a parsed completion from the two ways interpretation can fail.
type ResultKind string

const (
	KindOK            ResultKind = "ok"
	KindEnvelopeError ResultKind = "envelope_error" // response body did not have the expected shape
	KindParseError    ResultKind = "parse_error"    // completion text was not a JSON object
)

// Result is the outcome of interpreting one response body.
type Result struct {
	Kind ResultKind
	// Data is the parsed completion object; set only for KindOK.
	Data map[string]any
	// Fields holds make/model read leniently from Data.
	Fields CarFields
	// Complete is true when a non-empty make and model were found, synonyms included.
	Complete bool
	// SchemaValid is true when Data uses the exact make/model keys with non-blank strings.
	SchemaValid bool
	// Synonyms lists keys read in place of make/model (e.g. "brand").
	Synonyms []string
	// Error describes the failure; empty for KindOK.
	Error string
	// Raw is the untransformed text that could not be interpreted.
	Raw string
}

func (r Result) OK() bool {
	return r.Kind == KindOK
}

// Map renders the result the way it is displayed: the parsed object on success,
// otherwise {"error": ..., "raw": ...}.
func (r Result) Map() map[string]any {
	if r.OK() {
		return r.Data
	}
	return map[string]any{
		"error": r.Error,
		"raw":   r.Raw,
	}
}

func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}
