package codec

import "encoding/json"

// JSON is the default codec. Its output is embedded verbatim in the
// envelope when no transform applies.
type JSON struct{}

func (JSON) Name() string                    { return "json" }
func (JSON) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSON) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
