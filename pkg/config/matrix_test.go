package config

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testEvaluator(timeout time.Duration) *MatrixEvaluator {
	return NewMatrixEvaluator(zerolog.New(nil).Level(zerolog.Disabled), timeout)
}

func TestMatrixComprehension(t *testing.T) {
	script := `
variants = [
    {"phpVersion": v, "platform": p, "architecture": "amd64"}
    for v in ["8.2", "8.3"]
    for p in platforms
]
`
	variants, err := testEvaluator(0).Evaluate(context.Background(), "matrix.star", script)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(variants) != 4 {
		t.Fatalf("expected 4 variants, got %d", len(variants))
	}
	if variants[0].PHPVersion != "8.2" || variants[0].Platform != "alpine" {
		t.Errorf("variants[0] = %+v", variants[0])
	}
	if variants[3].PHPVersion != "8.3" || variants[3].Platform != "ubuntu" {
		t.Errorf("variants[3] = %+v", variants[3])
	}
	for _, v := range variants {
		if v.Architecture != "amd64" {
			t.Errorf("architecture = %q, want amd64", v.Architecture)
		}
	}
}

func TestMatrixPredeclaredDomains(t *testing.T) {
	script := `variants = [{"phpVersion": v} for v in php_versions]`

	variants, err := testEvaluator(0).Evaluate(context.Background(), "matrix.star", script)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(variants) != len(SupportedPHPVersions) {
		t.Fatalf("expected %d variants, got %d", len(SupportedPHPVersions), len(variants))
	}
	for i, v := range variants {
		if v.PHPVersion != SupportedPHPVersions[i] {
			t.Errorf("variants[%d].PHPVersion = %q, want %q", i, v.PHPVersion, SupportedPHPVersions[i])
		}
	}
}

func TestMatrixCallableVariants(t *testing.T) {
	script := `
def variants():
    cells = []
    for arch in architectures:
        cells.append({"phpVersion": "8.4", "architecture": arch})
    return cells
`
	variants, err := testEvaluator(0).Evaluate(context.Background(), "matrix.star", script)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(variants) != len(SupportedArchitectures) {
		t.Fatalf("expected %d variants, got %d", len(SupportedArchitectures), len(variants))
	}
	if variants[1].Architecture != "arm64" {
		t.Errorf("variants[1].Architecture = %q, want arm64", variants[1].Architecture)
	}
}

func TestMatrixOverrides(t *testing.T) {
	script := `
variants = [{
    "phpVersion": "8.3",
    "platform": "ubuntu",
    "build": {"useCache": False},
    "metadata": {"description": "matrix build"},
}]
`
	variants, err := testEvaluator(0).Evaluate(context.Background(), "matrix.star", script)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(variants) != 1 {
		t.Fatalf("expected 1 variant, got %d", len(variants))
	}

	v := variants[0]
	if v.PHPVersion != "8.3" || v.Platform != "ubuntu" {
		t.Errorf("selections = %+v", v)
	}
	build, ok := v.Overrides["build"].(map[string]any)
	if !ok || build["useCache"] != false {
		t.Errorf("build override = %v", v.Overrides["build"])
	}
	if _, ok := v.Overrides["metadata"]; !ok {
		t.Error("metadata override missing")
	}
}

func TestMatrixScriptErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		wantIn string
	}{
		{
			name:   "no variants global",
			script: `cells = []`,
			wantIn: `declares no "variants" global`,
		},
		{
			name:   "variants not a list",
			script: `variants = 42`,
			wantIn: "must be a list",
		},
		{
			name:   "cell not a dict",
			script: `variants = ["8.3"]`,
			wantIn: "variants[0] must be a dict",
		},
		{
			name:   "selection not a string",
			script: `variants = [{"phpVersion": 83}]`,
			wantIn: "phpVersion must be a string",
		},
		{
			name:   "syntax error",
			script: `variants = [`,
			wantIn: "matrix script failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testEvaluator(0).Evaluate(context.Background(), "matrix.star", tt.script)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantIn) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantIn)
			}
		})
	}
}

func TestMatrixTimeout(t *testing.T) {
	script := `variants = [{"phpVersion": "8.3"} for _ in range(500000)]`

	_, err := testEvaluator(time.Millisecond).Evaluate(context.Background(), "matrix.star", script)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("error = %v, want a timeout", err)
	}
}

func TestMatrixCancelledContext(t *testing.T) {
	script := `variants = [{"phpVersion": "8.3"} for _ in range(500000)]`

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testEvaluator(0).Evaluate(ctx, "matrix.star", script)
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled in the chain", err)
	}
	if strings.Contains(err.Error(), "timeout") {
		t.Errorf("error = %v, must not report a timeout", err)
	}
}

func TestVariantApply(t *testing.T) {
	doc := finalDocument()
	v := Variant{
		PHPVersion:   "8.2",
		Platform:     "ubuntu",
		Architecture: "arm64",
		Overrides: map[string]any{
			"platformSpecific": map[string]any{"aptUpdate": true, "aptUpgrade": false, "aptCleanCache": true},
		},
	}

	out := v.Apply(doc)

	if out["platform"] != "ubuntu" || out["architecture"] != "arm64" {
		t.Errorf("selections not applied: platform=%v architecture=%v", out["platform"], out["architecture"])
	}
	php := out["php"].(map[string]any)
	if php["version"] != "8.2" {
		t.Errorf("php.version = %v, want 8.2", php["version"])
	}
	if len(php["extensions"].([]any)) == 0 {
		t.Error("php block lost sibling keys")
	}

	origPHP := doc["php"].(map[string]any)
	if origPHP["version"] != "8.3" || doc["platform"] != "alpine" {
		t.Error("Apply must not mutate the source document")
	}

	engine := testEngine(Options{})
	if cfg, res := engine.ValidateConfig(out); !res.OK() || cfg == nil {
		t.Errorf("applied variant does not validate: %v", errorStrings(res))
	}
}
