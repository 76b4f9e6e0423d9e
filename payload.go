package adpulse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// payloadRules enforces the numeric bounds declared on Campaign and
// Snapshot once the shape checks below have produced a typed value.
var payloadRules = newPayloadRules()

func newPayloadRules() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var htmlEscaper = strings.NewReplacer(
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

// Sanitize escapes the HTML-significant characters of s.
func Sanitize(s string) string {
	return htmlEscaper.Replace(s)
}

// ValidateCampaignList checks the body of GET /campaigns and returns a
// freshly built, sanitized list. The input is never modified.
func ValidateCampaignList(raw []byte) ([]Campaign, error) {
	doc, err := decodePayload(raw)
	if err != nil {
		return nil, &ValidationError{Field: "campaigns", Message: err.Error()}
	}

	items, ok := doc.([]any)
	if !ok {
		return nil, &ValidationError{Field: "campaigns", Message: "expected array, got " + jsonKind(doc)}
	}
	if len(items) == 0 {
		return nil, &ValidationError{Field: "campaigns", Message: "must not be empty"}
	}

	out := make([]Campaign, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("campaigns[%d]", i)

		rec, ok := item.(map[string]any)
		if !ok {
			return nil, &ValidationError{Field: path, Message: "expected object, got " + jsonKind(item)}
		}

		id, err := integerField(rec, path, "id")
		if err != nil {
			return nil, err
		}

		name, err := stringField(rec, path, "name")
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(name) == "" {
			return nil, &ValidationError{Field: path + ".name", Message: "must not be blank"}
		}

		c := Campaign{ID: id, Name: Sanitize(name)}
		if err := checkRules(path, c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}

	return out, nil
}

// ValidateSnapshot checks the body of GET /campaigns/{id}.
func ValidateSnapshot(raw []byte) (Snapshot, error) {
	doc, err := decodePayload(raw)
	if err != nil {
		return Snapshot{}, &ValidationError{Field: "snapshot", Message: err.Error()}
	}

	rec, ok := doc.(map[string]any)
	if !ok {
		return Snapshot{}, &ValidationError{Field: "snapshot", Message: "expected object, got " + jsonKind(doc)}
	}

	var s Snapshot
	for _, f := range []struct {
		name string
		dst  *int64
	}{
		{"impressions", &s.Impressions},
		{"clicks", &s.Clicks},
		{"users", &s.Users},
	} {
		v, err := integerField(rec, "snapshot", f.name)
		if err != nil {
			return Snapshot{}, err
		}
		*f.dst = v
	}

	if err := checkRules("snapshot", s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

func decodePayload(raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("empty body")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}
	return doc, nil
}

func integerField(rec map[string]any, path, key string) (int64, error) {
	field := path + "." + key

	v, ok := rec[key]
	if !ok || v == nil {
		return 0, &ValidationError{Field: field, Message: "is required"}
	}

	num, ok := v.(json.Number)
	if !ok {
		return 0, &ValidationError{Field: field, Message: "expected number, got " + jsonKind(v)}
	}

	if n, err := num.Int64(); err == nil {
		return n, nil
	}

	// 12.0 and 1e3 are integral even though Int64 rejects them.
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > MaxCount {
		return 0, &ValidationError{Field: field, Message: "must be an integer"}
	}
	return int64(f), nil
}

func stringField(rec map[string]any, path, key string) (string, error) {
	field := path + "." + key

	v, ok := rec[key]
	if !ok || v == nil {
		return "", &ValidationError{Field: field, Message: "is required"}
	}

	s, ok := v.(string)
	if !ok {
		return "", &ValidationError{Field: field, Message: "expected string, got " + jsonKind(v)}
	}
	return s, nil
}

func checkRules(path string, v any) error {
	err := payloadRules.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{
			Field:   path + "." + fe.Field(),
			Message: ruleMessage(fe),
		}
	}
	return &ValidationError{Field: path, Message: err.Error()}
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	default:
		return fmt.Sprintf("failed %q rule", fe.Tag())
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
