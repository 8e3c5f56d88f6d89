package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Loader reads build documents and tool settings from disk. Build documents
// may be JSON, YAML or CUE; they are decoded into raw maps and handed to the
// Engine untouched, so every structural check happens in one place.
type Loader struct {
	logger    zerolog.Logger
	ctx       *cue.Context
	validator *validator.Validate
}

// NewLoader creates a loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:    logger.With().Str("component", "config-loader").Logger(),
		ctx:       cuecontext.New(),
		validator: validator.New(),
	}
}

// LoadDocument reads one build document. The format is chosen by file
// extension. CUE documents must evaluate to a concrete value.
func (l *Loader) LoadDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON in %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML in %s: %w", path, err)
		}
	case ".cue":
		val := l.ctx.CompileString(string(data), cue.Filename(path))
		if err := val.Err(); err != nil {
			return nil, fmt.Errorf("failed to compile CUE in %s: %s", path, cueDetails(err))
		}
		if err := val.Validate(cue.Concrete(true)); err != nil {
			return nil, fmt.Errorf("CUE document %s is not concrete: %s", path, cueDetails(err))
		}
		if err := val.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode CUE document %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported document format %q (want .json, .yaml, .yml or .cue)", filepath.Ext(path))
	}

	l.logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("Loaded build document")
	return doc, nil
}

// LoadSettings reads the tool settings file and validates it with struct
// tags. An empty path returns the defaults; file values override defaults
// field by field.
func (l *Loader) LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported settings format %q (want .json, .yaml or .yml)", filepath.Ext(path))
	}

	if err := l.validator.Struct(settings); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag())
			}
			return nil, fmt.Errorf("invalid settings in %s: %s", path, strings.Join(fields, ", "))
		}
		return nil, fmt.Errorf("invalid settings in %s: %w", path, err)
	}

	l.logger.Debug().Str("path", path).Msg("Loaded settings")
	return settings, nil
}

// cueDetails flattens a CUE error list into one line with positions.
func cueDetails(err error) string {
	var parts []string
	for _, e := range cueerrors.Errors(err) {
		pos := cueerrors.Positions(e)
		if len(pos) > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d:%d: %s", pos[0].Filename(), pos[0].Line(), pos[0].Column(), e.Error()))
		} else {
			parts = append(parts, e.Error())
		}
	}
	return strings.Join(parts, "; ")
}

// Digest returns a stable content digest of a build document, used to link
// build history records back to the exact configuration that produced them.
func Digest(doc map[string]any) string {
	raw, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
