package frame

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jpalmerr/airboard/telemetry"
)

// Separator delimits tokens within a frame.
const Separator = ";"

// TokenCount is the number of tokens a valid frame carries: the device id
// plus every reading field.
const TokenCount = telemetry.FieldCount + 1

// ErrFieldCount is matched by [*FieldCountError] via errors.Is.
var ErrFieldCount = errors.New("wrong field count")

// FieldCountError reports a frame that did not split into [TokenCount] tokens.
type FieldCountError struct {
	Count int
}

func (e *FieldCountError) Error() string {
	return fmt.Sprintf("wrong field count: got %d, want %d", e.Count, TokenCount)
}

// Is lets errors.Is(err, ErrFieldCount) match any FieldCountError.
func (e *FieldCountError) Is(target error) bool {
	return target == ErrFieldCount
}

// Parse decodes a single frame into its device id and reading.
//
// The frame must split into exactly [TokenCount] tokens, otherwise a
// [*FieldCountError] is returned. Token 0 is the device id, taken verbatim.
// Tokens 1..14 are parsed as decimal float32; any token that does not parse
// becomes NaN in the returned reading, and a value beyond the float32 range
// becomes ±Inf.
func Parse(frame string) (string, telemetry.Reading, error) {
	tokens := strings.Split(frame, Separator)
	if len(tokens) != TokenCount {
		return "", telemetry.Reading{}, &FieldCountError{Count: len(tokens)}
	}

	var values [telemetry.FieldCount]float32
	for i, tok := range tokens[1:] {
		values[i] = parseField(tok)
	}

	return tokens[0], telemetry.NewReading(values), nil
}

// parseField returns NaN for anything that is not a decimal float.
// Out-of-range values saturate to ±Inf; hex floats are not accepted.
func parseField(tok string) float32 {
	if isHexFloat(tok) {
		return float32(telemetry.NaN())
	}
	f, err := strconv.ParseFloat(tok, 32)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return float32(telemetry.NaN())
	}
	return float32(f)
}

func isHexFloat(tok string) bool {
	if len(tok) > 0 && (tok[0] == '+' || tok[0] == '-') {
		tok = tok[1:]
	}
	return len(tok) > 1 && tok[0] == '0' && (tok[1] == 'x' || tok[1] == 'X')
}
