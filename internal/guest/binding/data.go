package binding

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/bytedance/sonic"
)

//go:embed data/constants.json
var constantsJSON []byte

//go:embed data/config.json
var configJSON []byte

// Constants decodes the constants binding table (os, fs, crypto, zlib).
func Constants() (map[string]any, error) {
	var out map[string]any
	if err := sonic.Unmarshal(constantsJSON, &out); err != nil {
		return nil, fmt.Errorf("decode constants: %w", err)
	}
	return out, nil
}

// ConstantsSource is the constants table as JSON text.
func ConstantsSource() string {
	return string(constantsJSON)
}

// ConfigSource is the build configuration in the shape the bootstrap parses
// from natives: a leading comment line, then the document with single quotes.
func ConfigSource() string {
	return "\n" + strings.ReplaceAll(strings.TrimSpace(string(configJSON)), `"`, `'`)
}

// UVConstants returns the uv binding table, UV_-prefixed.
func UVConstants() map[string]int {
	out := make(map[string]int, len(fault.UVErrors))
	for name, code := range fault.UVErrors {
		out["UV_"+name] = code
	}
	return out
}

// ErrName maps a uv code back to its name.
func ErrName(code int) string {
	for name, c := range fault.UVErrors {
		if c == code {
			return name
		}
	}
	return fmt.Sprintf("Unknown system error %d", code)
}
