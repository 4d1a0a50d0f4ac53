package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigurationError_Format(t *testing.T) {
	ce := ConfigurationError{
		Path:     "/etc/gitsync/config.yaml",
		Category: CategoryConfig,
		Kind:     ErrorKindParse,
		Line:     3,
		Message:  "invalid YAML",
		Hint:     "check indentation",
	}
	assert.Equal(t, "[config] config.yaml: invalid YAML", ce.Error())

	block := ce.report()
	assert.Contains(t, block, "/etc/gitsync/config.yaml:3 (config parse error)")
	assert.Contains(t, block, "hint: check indentation")

	ce.Field = "server.port"
	assert.Equal(t, "[config] config.yaml: server.port: invalid YAML", ce.Error())
}

func TestConfigurationErrorCollection(t *testing.T) {
	errs := &ConfigurationErrorCollection{}
	assert.False(t, errs.HasErrors())
	assert.Equal(t, "no configuration errors", errs.Error())
	assert.Equal(t, "configuration is valid", errs.Report())

	errs.addIO("/srv/apps/a.yaml", CategoryApplications, errors.New("permission denied"))
	assert.Equal(t, "[applications] a.yaml: permission denied", errs.Error())

	errs.Add(ConfigurationError{Path: "config.yaml", Category: CategoryConfig, Kind: ErrorKindValidation, Field: "server.port", Message: "bad port"})
	assert.Equal(t, 2, errs.Count())
	assert.Equal(t, "2 configuration errors: [applications] a.yaml: permission denied (and 1 more)", errs.Error())
	assert.Len(t, errs.InCategory(CategoryConfig), 1)

	report := errs.Report()
	assert.Contains(t, report, "configuration has 2 errors:")
	assert.Contains(t, report, "/srv/apps/a.yaml (applications io error)")
	assert.Contains(t, report, "field: server.port")
}

func TestValidationErrors(t *testing.T) {
	var ve ValidationErrors
	assert.False(t, ve.HasErrors())

	ve.addErr(ValidatePositive("controller.workers", 0))
	ve.addErr(ValidatePositive("controller.maxHistory", 3))
	ve.addErr(ValidateOneOf("logging.format", "xml", []string{"text", "json"}))

	assert.True(t, ve.HasErrors())
	assert.Equal(t, "validation failed: field 'controller.workers': must be greater than zero; field 'logging.format': must be one of: text, json", ve.Error())
}
