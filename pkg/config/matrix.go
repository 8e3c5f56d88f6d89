package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Variant is one cell of a build matrix: the selections that distinguish it
// from the base document plus arbitrary top-level overrides.
type Variant struct {
	PHPVersion   string         `json:"phpVersion,omitempty"`
	Platform     string         `json:"platform,omitempty"`
	Architecture string         `json:"architecture,omitempty"`
	Overrides    map[string]any `json:"overrides,omitempty"`
}

// Apply overlays the variant onto a copy of the build document. Overrides
// merge at the top level; the three selection fields are set in place.
func (v Variant) Apply(doc map[string]any) map[string]any {
	out := MergeLayers(doc, v.Overrides)
	if v.PHPVersion != "" {
		php, _ := out["php"].(map[string]any)
		cp := make(map[string]any, len(php)+1)
		for k, val := range php {
			cp[k] = val
		}
		cp["version"] = v.PHPVersion
		out["php"] = cp
	}
	if v.Platform != "" {
		out["platform"] = v.Platform
	}
	if v.Architecture != "" {
		out["architecture"] = v.Architecture
	}
	return out
}

// MatrixEvaluator executes Starlark matrix scripts in a sandbox: no file or
// network access, print suppressed, wall-clock bounded. A script declares a
// global "variants" that is either a list of dicts or a function returning
// one; each dict selects phpVersion, platform and architecture, and any
// remaining keys become document overrides.
type MatrixEvaluator struct {
	logger  zerolog.Logger
	timeout time.Duration
}

// NewMatrixEvaluator creates an evaluator. A zero timeout defaults to 30s.
func NewMatrixEvaluator(logger zerolog.Logger, timeout time.Duration) *MatrixEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &MatrixEvaluator{
		logger:  logger.With().Str("component", "matrix").Logger(),
		timeout: timeout,
	}
}

// EvaluateFile reads and evaluates a matrix script from disk.
func (m *MatrixEvaluator) EvaluateFile(ctx context.Context, path string) ([]Variant, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read matrix script %s: %w", path, err)
	}
	return m.Evaluate(ctx, path, string(script))
}

// Evaluate runs the script and extracts the declared variants.
func (m *MatrixEvaluator) Evaluate(ctx context.Context, name, script string) ([]Variant, error) {
	evalCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resultCh := make(chan []Variant, 1)
	errCh := make(chan error, 1)

	go func() {
		variants, err := m.evaluateSync(name, script)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- variants
	}()

	select {
	case <-evalCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("matrix evaluation cancelled: %w", err)
		}
		return nil, fmt.Errorf("matrix evaluation timeout after %v", m.timeout)
	case err := <-errCh:
		return nil, err
	case variants := <-resultCh:
		m.logger.Debug().Str("script", name).Int("variants", len(variants)).Msg("Matrix expanded")
		return variants, nil
	}
}

func (m *MatrixEvaluator) evaluateSync(name, script string) ([]Variant, error) {
	thread := &starlark.Thread{
		Name: "kiln-matrix",
		Print: func(_ *starlark.Thread, msg string) {
			// Suppressed; matrix scripts have no output channel.
		},
	}

	predeclared := starlark.StringDict{
		"struct":    starlarkstruct.Default,
		"range":     starlark.NewBuiltin("range", builtinRange),
		"enumerate": starlark.NewBuiltin("enumerate", builtinEnumerate),
		"zip":       starlark.NewBuiltin("zip", builtinZip),
	}
	for key, values := range map[string][]string{
		"php_versions":  SupportedPHPVersions,
		"platforms":     PlatformFamilies,
		"architectures": SupportedArchitectures,
	} {
		items := make([]any, len(values))
		for i, v := range values {
			items[i] = v
		}
		list, err := toStarlarkValue(items)
		if err != nil {
			return nil, fmt.Errorf("failed to build predeclared %s: %w", key, err)
		}
		predeclared[key] = list
	}

	globals, err := starlark.ExecFile(thread, name, script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("matrix script failed: %w", err)
	}

	value, ok := globals["variants"]
	if !ok {
		return nil, fmt.Errorf("matrix script %s declares no \"variants\" global", name)
	}
	if fn, isCallable := value.(starlark.Callable); isCallable {
		value, err = starlark.Call(thread, fn, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("variants() call failed: %w", err)
		}
	}

	raw, err := fromStarlarkValue(value)
	if err != nil {
		return nil, fmt.Errorf("failed to convert variants: %w", err)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("variants must be a list, got %T", raw)
	}

	variants := make([]Variant, 0, len(items))
	for i, item := range items {
		cell, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("variants[%d] must be a dict, got %T", i, item)
		}
		v, err := parseVariant(cell)
		if err != nil {
			return nil, fmt.Errorf("variants[%d]: %w", i, err)
		}
		variants = append(variants, v)
	}
	return variants, nil
}

// parseVariant lifts the selection keys out of a cell dict; everything else
// becomes a document override.
func parseVariant(cell map[string]any) (Variant, error) {
	var v Variant
	for key, val := range cell {
		switch key {
		case "phpVersion", "platform", "architecture":
			s, ok := val.(string)
			if !ok {
				return v, fmt.Errorf("%s must be a string, got %T", key, val)
			}
			switch key {
			case "phpVersion":
				v.PHPVersion = s
			case "platform":
				v.Platform = s
			case "architecture":
				v.Architecture = s
			}
		default:
			if v.Overrides == nil {
				v.Overrides = make(map[string]any)
			}
			v.Overrides[key] = val
		}
	}
	return v, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}
	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]any, len(val))
		for i, item := range val {
			converted, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

// builtinRange implements the range() built-in function.
func builtinRange(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start, stop, step int64 = 0, 0, 1

	switch len(args) {
	case 1:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "stop", &stop); err != nil {
			return nil, err
		}
	case 2:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop", &stop); err != nil {
			return nil, err
		}
	case 3:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop", &stop, "step", &step); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("range takes 1 to 3 arguments, got %d", len(args))
	}

	if step == 0 {
		return nil, fmt.Errorf("range step cannot be zero")
	}

	var list []starlark.Value
	if step > 0 {
		for i := start; i < stop; i += step {
			list = append(list, starlark.MakeInt64(i))
		}
	} else {
		for i := start; i > stop; i += step {
			list = append(list, starlark.MakeInt64(i))
		}
	}

	return starlark.NewList(list), nil
}

// builtinEnumerate implements the enumerate() built-in function.
func builtinEnumerate(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start int64 = 0

	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}

	iter := iterable.Iterate()
	defer iter.Done()

	var list []starlark.Value
	var x starlark.Value
	i := start
	for iter.Next(&x) {
		list = append(list, starlark.Tuple{starlark.MakeInt64(i), x})
		i++
	}

	return starlark.NewList(list), nil
}

// builtinZip implements the zip() built-in function.
func builtinZip(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return starlark.NewList(nil), nil
	}

	iters := make([]starlark.Iterator, len(args))
	for i, arg := range args {
		iterable, ok := arg.(starlark.Iterable)
		if !ok {
			return nil, fmt.Errorf("zip argument %d is not iterable", i)
		}
		iters[i] = iterable.Iterate()
		defer iters[i].Done()
	}

	var list []starlark.Value
	for {
		tuple := make(starlark.Tuple, len(iters))
		for i, iter := range iters {
			if !iter.Next(&tuple[i]) {
				return starlark.NewList(list), nil
			}
		}
		list = append(list, tuple)
	}
}
