package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/smartcache/errors"
)

// Limits applied to config files, remote updates and environment values.
const (
	maxConfigSize = 1 << 20
	maxJSONDepth  = 32
	maxEnvVarLen  = 4096
	maxPathLen    = 4096
)

// validateConfigPath rejects empty, overlong, non-JSON and escaping paths.
// Relative paths must stay under the working directory.
func validateConfigPath(path string) error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf(format, args...), "config", "validateConfigPath", "check path")
	}

	switch {
	case path == "":
		return invalid("empty config path")
	case len(path) > maxPathLen:
		return invalid("path too long: %d > %d", len(path), maxPathLen)
	case !strings.HasSuffix(path, ".json"):
		return invalid("only JSON config files allowed: %s", path)
	}

	if filepath.IsAbs(path) {
		return nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return invalid("cannot resolve path: %v", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return invalid("cannot get working directory: %v", err)
	}
	rel, err := filepath.Rel(cwd, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return invalid("path traversal not allowed: %s resolves outside working directory", path)
	}
	return nil
}

// safeReadFile reads a regular config file no larger than maxConfigSize.
func safeReadFile(path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "safeReadFile", "stat")
	}
	if !info.Mode().IsRegular() {
		return nil, errors.WrapInvalid(fmt.Errorf("not a regular file: %s", path), "config", "safeReadFile", "stat")
	}
	if info.Size() > maxConfigSize {
		return nil, errors.WrapInvalid(fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize),
			"config", "safeReadFile", "stat")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapTransient(err, "config", "safeReadFile", "read")
	}
	return data, nil
}

// safeWriteFile writes data readable by the owner only.
func safeWriteFile(path string, data []byte) error {
	if err := validateConfigPath(path); err != nil {
		return err
	}
	if len(data) > maxConfigSize {
		return errors.WrapInvalid(fmt.Errorf("config data too large: %d bytes > %d", len(data), maxConfigSize),
			"config", "safeWriteFile", "check size")
	}
	return os.WriteFile(path, data, 0o600)
}

// validateEnvVar bounds the length of an override and rejects NUL bytes.
func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("null byte in environment variable %s", key)
	}
	return nil
}

// validateJSONDepth scans data for nesting deeper than maxJSONDepth without
// decoding it. String contents are skipped.
func validateJSONDepth(data []byte) error {
	depth := 0
	inString, escaped := false, false

	for _, b := range data {
		switch {
		case escaped:
			escaped = false
		case inString && b == '\\':
			escaped = true
		case b == '"':
			inString = !inString
		case inString:
		case b == '{' || b == '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("JSON nesting too deep: %d > %d", depth, maxJSONDepth)
			}
		case b == '}' || b == ']':
			depth--
			if depth < 0 {
				return errors.New("malformed JSON: unbalanced brackets")
			}
		}
	}

	if depth != 0 {
		return fmt.Errorf("malformed JSON: unclosed brackets (depth=%d)", depth)
	}
	return nil
}
