package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tabhop/internal/hop"
)

// startKeys are the fields of the wrapped start request form.
var startKeys = map[string]bool{"params": true, "preset": true, "source": true}

// UnmarshalJSON accepts either the wrapped form {"params":{...},"preset":"...","source":"..."}
// or a bare Params object as sent by the extension popup. Unknown fields are
// rejected in both forms so a typo never silently starts the last run.
func (r *StartRequest) UnmarshalJSON(b []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(b, &keys); err != nil {
		return fmt.Errorf("start request: %w", err)
	}
	if keys == nil {
		*r = StartRequest{}
		return nil
	}

	bare := false
	for k := range keys {
		if !startKeys[strings.ToLower(k)] {
			bare = true
			break
		}
	}
	if bare {
		var p hop.Params
		if err := decodeStrict(b, &p); err != nil {
			return fmt.Errorf("start params: %w", err)
		}
		*r = StartRequest{Params: &p}
		return nil
	}

	type wrapped StartRequest
	var w wrapped
	if err := decodeStrict(b, &w); err != nil {
		return fmt.Errorf("start request: %w", err)
	}
	*r = StartRequest(w)
	return nil
}

func decodeStrict(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after object")
	}
	return nil
}
