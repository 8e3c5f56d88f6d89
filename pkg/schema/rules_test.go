package schema

import (
	"encoding/json"
	"strings"
	"testing"
)

func firstError(t *testing.T, res Result) string {
	t.Helper()
	if len(res.Errors) == 0 {
		t.Fatal("Expected at least one error")
	}
	return res.Errors[0].String()
}

func TestStringRule(t *testing.T) {
	tests := []struct {
		name    string
		rule    Validator
		input   any
		wantErr string
		wantVal any
	}{
		{
			name:    "within bounds",
			rule:    String(1, 10),
			input:   "pdo_mysql",
			wantVal: "pdo_mysql",
		},
		{
			name:    "too short",
			rule:    String(1, 10),
			input:   "",
			wantErr: "must be at least 1 characters",
		},
		{
			name:    "too long",
			rule:    String(1, 5),
			input:   "abcdef",
			wantErr: "must not exceed 5 characters",
		},
		{
			name:    "not a string",
			rule:    String(1, 5),
			input:   42,
			wantErr: "must be a string",
		},
		{
			name:    "pattern match",
			rule:    StringMatch(1, 10, `^\d+[smh]?$`, "must be a valid duration (digits with optional s/m/h suffix)"),
			input:   "30s",
			wantVal: "30s",
		},
		{
			name:    "pattern mismatch",
			rule:    StringMatch(1, 10, `^\d+[smh]?$`, "must be a valid duration (digits with optional s/m/h suffix)"),
			input:   "1min",
			wantErr: "must be a valid duration (digits with optional s/m/h suffix)",
		},
		{
			name:    "rune length not byte length",
			rule:    String(1, 4),
			input:   "héllo",
			wantErr: "must not exceed 4 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.rule.Validate(tt.input)
			if tt.wantErr != "" {
				if got := firstError(t, res); got != tt.wantErr {
					t.Errorf("Error = %q, want %q", got, tt.wantErr)
				}
				if res.Value != nil {
					t.Errorf("Value = %v, want nil on failure", res.Value)
				}
				return
			}
			if !res.OK() {
				t.Fatalf("Unexpected errors: %v", res.Messages())
			}
			if res.Value != tt.wantVal {
				t.Errorf("Value = %v, want %v", res.Value, tt.wantVal)
			}
		})
	}
}

func TestNumberRule(t *testing.T) {
	tests := []struct {
		name    string
		rule    Validator
		input   any
		wantErr string
		wantVal any
	}{
		{
			name:    "int within bounds",
			rule:    Int(1, 65535),
			input:   1024,
			wantVal: int64(1024),
		},
		{
			name:    "float input to int rule",
			rule:    Int(1, 65535),
			input:   float64(65535),
			wantVal: int64(65535),
		},
		{
			name:    "numeric string coerced",
			rule:    Int(1, 65535),
			input:   "8080",
			wantVal: int64(8080),
		},
		{
			name:    "json number coerced",
			rule:    Int(1, 1000),
			input:   json.Number("25"),
			wantVal: int64(25),
		},
		{
			name:    "below minimum",
			rule:    Int(1, 65535),
			input:   0,
			wantErr: "must be at least 1",
		},
		{
			name:    "above maximum",
			rule:    Int(1, 65535),
			input:   65536,
			wantErr: "must not exceed 65535",
		},
		{
			name:    "not integral",
			rule:    Int(1, 100),
			input:   1.5,
			wantErr: "must be an integer",
		},
		{
			name:    "not a number",
			rule:    Int(1, 100),
			input:   "auto",
			wantErr: "must be a number",
		},
		{
			name:    "float bounds",
			rule:    Number(0.1, 1.0),
			input:   0.05,
			wantErr: "must be at least 0.1",
		},
		{
			name:    "float value kept",
			rule:    Number(0, 10),
			input:   2.5,
			wantVal: 2.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.rule.Validate(tt.input)
			if tt.wantErr != "" {
				if got := firstError(t, res); got != tt.wantErr {
					t.Errorf("Error = %q, want %q", got, tt.wantErr)
				}
				return
			}
			if !res.OK() {
				t.Fatalf("Unexpected errors: %v", res.Messages())
			}
			if res.Value != tt.wantVal {
				t.Errorf("Value = %v (%T), want %v (%T)", res.Value, res.Value, tt.wantVal, tt.wantVal)
			}
		})
	}
}

func TestBoolRule(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		wantErr bool
	}{
		{name: "true", input: true},
		{name: "false", input: false},
		{name: "string true rejected", input: "true", wantErr: true},
		{name: "number rejected", input: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Bool().Validate(tt.input)
			if tt.wantErr {
				if got := firstError(t, res); got != "must be a boolean" {
					t.Errorf("Error = %q, want %q", got, "must be a boolean")
				}
				return
			}
			if !res.OK() {
				t.Fatalf("Unexpected errors: %v", res.Messages())
			}
			if res.Value != tt.input {
				t.Errorf("Value = %v, want %v", res.Value, tt.input)
			}
		})
	}
}

func TestEnumRule(t *testing.T) {
	rule := Enum("amd64", "arm64", "arm/v7", "arm/v6")

	res := rule.Validate("arm64")
	if !res.OK() {
		t.Fatalf("Unexpected errors: %v", res.Messages())
	}
	if res.Value != "arm64" {
		t.Errorf("Value = %v, want arm64", res.Value)
	}

	res = rule.Validate("s390x")
	want := "must be one of amd64, arm64, arm/v7, arm/v6"
	if got := firstError(t, res); got != want {
		t.Errorf("Error = %q, want %q", got, want)
	}

	res = rule.Validate(7)
	if got := firstError(t, res); got != want {
		t.Errorf("Error for non-string = %q, want %q", got, want)
	}
}

func TestArrayRule(t *testing.T) {
	rule := Array(String(1, 50), 1, 3)

	tests := []struct {
		name     string
		input    any
		wantErrs []string
		wantLen  int
	}{
		{
			name:    "valid list",
			input:   []any{"mbstring", "pdo_mysql"},
			wantLen: 2,
		},
		{
			name:    "typed string slice accepted",
			input:   []string{"gd"},
			wantLen: 1,
		},
		{
			name:     "empty list below minimum",
			input:    []any{},
			wantErrs: []string{"must contain at least 1 items"},
		},
		{
			name:     "too many items",
			input:    []any{"a", "b", "c", "d"},
			wantErrs: []string{"must contain at most 3 items"},
		},
		{
			name:     "element error carries index",
			input:    []any{"ok", 5, ""},
			wantErrs: []string{"[1] must be a string", "[2] must be at least 1 characters"},
		},
		{
			name:     "not an array",
			input:    "mbstring",
			wantErrs: []string{"must be an array"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := rule.Validate(tt.input)
			if len(tt.wantErrs) > 0 {
				got := res.Messages()
				if len(got) != len(tt.wantErrs) {
					t.Fatalf("Errors = %v, want %v", got, tt.wantErrs)
				}
				for i := range got {
					if got[i] != tt.wantErrs[i] {
						t.Errorf("Error[%d] = %q, want %q", i, got[i], tt.wantErrs[i])
					}
				}
				return
			}
			if !res.OK() {
				t.Fatalf("Unexpected errors: %v", res.Messages())
			}
			items, ok := res.Value.([]any)
			if !ok {
				t.Fatalf("Value type = %T, want []any", res.Value)
			}
			if len(items) != tt.wantLen {
				t.Errorf("Value length = %d, want %d", len(items), tt.wantLen)
			}
		})
	}
}

func TestStringMapRule(t *testing.T) {
	rule := StringMap(2, 5, 10)

	res := rule.Validate(map[string]any{"APP": "prod", "TZ": "UTC"})
	if !res.OK() {
		t.Fatalf("Unexpected errors: %v", res.Messages())
	}
	m, ok := res.Value.(map[string]string)
	if !ok {
		t.Fatalf("Value type = %T, want map[string]string", res.Value)
	}
	if m["APP"] != "prod" || m["TZ"] != "UTC" {
		t.Errorf("Value = %v, want both entries kept", m)
	}

	res = rule.Validate(map[string]any{"A": "1", "B": "2", "C": "3"})
	if got := firstError(t, res); got != "must contain at most 2 entries" {
		t.Errorf("Error = %q, want entry bound message", got)
	}

	res = rule.Validate(map[string]any{"TOOLONGKEY": "x"})
	if got := firstError(t, res); !strings.Contains(got, "key must not exceed 5 characters") {
		t.Errorf("Error = %q, want key length message", got)
	}

	res = rule.Validate(map[string]any{"A": 1})
	if got := firstError(t, res); got != "A must be a string" {
		t.Errorf("Error = %q, want %q", got, "A must be a string")
	}

	// Key order in reports is sorted, so repeated runs agree.
	res = rule.Validate(map[string]any{"B": 2, "A": 1, "C": 3})
	if got := firstError(t, res); got != "must contain at most 2 entries" {
		t.Errorf("Error = %q, want entry bound message", got)
	}

	res = rule.Validate("not-a-map")
	if got := firstError(t, res); got != "must be an object" {
		t.Errorf("Error = %q, want %q", got, "must be an object")
	}
}
