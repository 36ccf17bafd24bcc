package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a response contains no JSON object.
var ErrNoJSON = errors.New("no JSON object found in response")

// Validator is implemented by response shapes that carry their own range
// checks. DecodeStrict calls Validate after a successful decode.
type Validator interface {
	Validate() error
}

// DecodeStrict extracts the first complete JSON object from raw and decodes
// it into out. Unknown fields and trailing data are rejected. If out
// implements Validator the result is validated as well. Every failure is an
// *InferenceError of kind KindMalformed.
func DecodeStrict(op, raw string, out any) error {
	payload, err := extractJSON(raw)
	if err != nil {
		return &InferenceError{Op: op, Kind: KindMalformed, Err: err}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return &InferenceError{Op: op, Kind: KindMalformed, Err: fmt.Errorf("decode: %w", err)}
	}
	if dec.More() {
		return &InferenceError{Op: op, Kind: KindMalformed, Err: errors.New("trailing data after JSON object")}
	}

	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return &InferenceError{Op: op, Kind: KindMalformed, Err: err}
		}
	}
	return nil
}

// DecodeItem strictly decodes one element of a response array. It is used
// where siblings must survive a bad element.
func DecodeItem(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if v, ok := out.(Validator); ok {
		return v.Validate()
	}
	return nil
}

// extractJSON returns the first balanced {...} object in response, skipping
// markdown fences and prose models sometimes wrap around it.
func extractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)
	start := strings.Index(response, "{")
	if start == -1 {
		return "", ErrNoJSON
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return response[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response")
}
