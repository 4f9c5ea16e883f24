// Package parser loads and validates the per-tree buildcell.yaml
// configuration. The polymorphic deps field (single string or list) is
// normalized to a plain slice here; nothing downstream branches on input
// shape.
package parser

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"buildcell/internal/errors"
	"buildcell/pkg/buildconf"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// FindConfig locates the configuration file in the working tree. A missing
// file is not an error: every setting has a default.
func FindConfig(workDir string) (string, bool) {
	for _, name := range []string{"buildcell.yaml", "buildcell.yml"} {
		path := filepath.Join(workDir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// Parse reads and validates a configuration file, returning the normalized
// Config or a typed configuration error.
func Parse(filePath string) (*buildconf.Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, errors.NewConfigError(
			fmt.Sprintf("Configuration file not found: %s", filePath),
			"", "Create a buildcell.yaml with at least an image entry", err)
	}

	v := viper.New()
	v.SetConfigFile(filePath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.NewConfigError(
			fmt.Sprintf("Failed to read configuration file %s", filePath),
			err.Error(), "Check the file for malformed YAML", err)
	}

	var cfg buildconf.Config
	// A bare string deps entry decodes as a space-separated list.
	decodeDeps := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToSliceHookFunc(" "),
	))
	if err := v.Unmarshal(&cfg, decodeDeps); err != nil {
		return nil, errors.NewConfigError(
			fmt.Sprintf("Failed to parse configuration file %s", filePath),
			err.Error(), "Check the field types in the file", err)
	}

	cfg.Deps = dropEmpty(cfg.Deps)

	if err := validate.Struct(&cfg); err != nil {
		return nil, errors.NewConfigError(
			fmt.Sprintf("Invalid configuration in %s", filePath),
			formatValidationError(err), "", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file exists.
func Default() *buildconf.Config {
	return &buildconf.Config{}
}

func dropEmpty(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func formatValidationError(err error) string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}

	msg := ""
	for i, e := range validationErrors {
		if i > 0 {
			msg += "; "
		}
		switch e.Tag() {
		case "url":
			msg += fmt.Sprintf("field '%s' must be a valid URL", e.Field())
		default:
			msg += fmt.Sprintf("field '%s' failed validation (%s)", e.Field(), e.Tag())
		}
	}
	return msg
}
