package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gitsync/internal/api"
	"gitsync/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// addErr appends err when it is a ValidationError.
func (ve *ValidationErrors) addErr(err error) {
	var v ValidationError
	if errors.As(err, &v) {
		*ve = append(*ve, v)
	}
}

// ValidateRequired checks if a required string field is not empty
func ValidateRequired(field, value, entityType string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("is required for %s", entityType),
		}
	}
	return nil
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidatePositive checks that a count is greater than zero.
func ValidatePositive(field string, value int) error {
	if value <= 0 {
		return ValidationError{Field: field, Value: value, Message: "must be greater than zero"}
	}
	return nil
}

// ValidatePositiveDuration checks that a duration is greater than zero.
func ValidatePositiveDuration(field string, value time.Duration) error {
	if value <= 0 {
		return ValidationError{Field: field, Value: value, Message: "must be a positive duration such as 30s or 3m"}
	}
	return nil
}

// Validate checks the whole configuration and returns every problem found,
// as configuration errors of the config category.
func (c GitsyncConfig) Validate() *ConfigurationErrorCollection {
	var ve ValidationErrors

	ve.addErr(ValidateRequired("server.host", c.Server.Host, "the server"))
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		ve.Add("server.port", "must be between 1 and 65535", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.EndpointPath, "/") {
		ve.Add("server.endpointPath", "must start with /", c.Server.EndpointPath)
	}
	if c.Server.MetricsPath != "" && !strings.HasPrefix(c.Server.MetricsPath, "/") {
		ve.Add("server.metricsPath", "must start with /", c.Server.MetricsPath)
	}
	if c.Server.MetricsPath != "" && c.Server.MetricsPath == c.Server.EndpointPath {
		ve.Add("server.metricsPath", "must differ from server.endpointPath", c.Server.MetricsPath)
	}

	ve.addErr(ValidatePositive("controller.workers", c.Controller.Workers))
	ve.addErr(ValidatePositive("controller.triggerBuffer", c.Controller.TriggerBuffer))
	ve.addErr(ValidatePositive("controller.maxHistory", c.Controller.MaxHistory))
	ve.addErr(ValidatePositive("controller.eventBuffer", c.Controller.EventBuffer))
	ve.addErr(ValidatePositiveDuration("controller.refreshInterval", c.Controller.RefreshInterval))
	ve.addErr(ValidatePositiveDuration("controller.fetchTimeout", c.Controller.FetchTimeout))
	if c.Controller.EventHistory < 0 {
		ve.Add("controller.eventHistory", "must not be negative", c.Controller.EventHistory)
	}

	ve.addErr(ValidatePositive("executor.maxConcurrentActions", c.Executor.MaxConcurrentActions))
	ve.addErr(ValidatePositive("executor.maxAttempts", c.Executor.MaxAttempts))
	ve.addErr(ValidatePositiveDuration("executor.initialBackoff", c.Executor.InitialBackoff))
	ve.addErr(ValidatePositiveDuration("executor.maxBackoff", c.Executor.MaxBackoff))
	ve.addErr(ValidatePositiveDuration("executor.actionTimeout", c.Executor.ActionTimeout))
	if c.Executor.MaxBackoff < c.Executor.InitialBackoff {
		ve.Add("executor.maxBackoff", "must not be shorter than executor.initialBackoff", c.Executor.MaxBackoff)
	}
	if c.Executor.HealthTimeout < 0 {
		ve.Add("executor.healthTimeout", "must not be negative, 0 disables health gating", c.Executor.HealthTimeout)
	}

	if c.Source.WatchDebounce < 0 {
		ve.Add("source.watchDebounce", "must not be negative, 0 disables watching", c.Source.WatchDebounce)
	}
	if c.Source.PasswordEnv != "" && c.Source.Username == "" {
		ve.Add("source.username", "is required when source.passwordEnv is set")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		ve.Add("logging.level", err.Error(), c.Logging.Level)
	}
	ve.addErr(ValidateOneOf("logging.format", c.Logging.Format, []string{string(logging.FormatText), string(logging.FormatJSON)}))

	clusters := make(map[string]bool)
	if len(c.Clusters) == 0 {
		ve.Add("clusters", "at least one destination cluster is required")
	}
	for i, cl := range c.Clusters {
		field := fmt.Sprintf("clusters[%d]", i)
		if err := ValidateRequired(field+".name", cl.Name, "a cluster"); err != nil {
			ve.addErr(err)
			continue
		}
		if clusters[cl.Name] {
			ve.Add(field+".name", fmt.Sprintf("duplicate cluster %q", cl.Name), cl.Name)
		}
		clusters[cl.Name] = true
		ve.addErr(ValidateOneOf(field+".type", string(cl.EffectiveType()), []string{string(ClusterTypeKubernetes), string(ClusterTypeMemory)}))
		if cl.InCluster && cl.Kubeconfig != "" {
			ve.Add(field+".inCluster", "cannot be combined with kubeconfig")
		}
	}

	apps := make(map[string]bool)
	for i, app := range c.Applications {
		field := fmt.Sprintf("applications[%d]", i)
		if err := app.Validate(); err != nil {
			var v *api.ValidationError
			if errors.As(err, &v) {
				ve.Add(field+"."+v.Field, v.Message)
			} else {
				ve.Add(field, err.Error())
			}
			continue
		}
		if apps[app.Name] {
			ve.Add(field+".name", fmt.Sprintf("duplicate application %q", app.Name), app.Name)
		}
		apps[app.Name] = true
		if !clusters[app.Destination.Cluster] {
			ve.Add(field+".destination.cluster", fmt.Sprintf("unknown cluster %q", app.Destination.Cluster), app.Destination.Cluster)
		}
	}

	errs := &ConfigurationErrorCollection{}
	for _, v := range ve {
		ce := ConfigurationError{Path: configFileName, Category: CategoryConfig, Kind: ErrorKindValidation, Field: v.Field, Message: v.Message}
		if strings.HasPrefix(v.Field, "applications[") {
			ce.Category = CategoryApplications
		}
		errs.Add(ce)
	}
	return errs
}

// EffectiveType returns the cluster type, defaulting to kubernetes.
func (cl ClusterConfig) EffectiveType() ClusterType {
	if cl.Type == "" {
		return ClusterTypeKubernetes
	}
	return cl.Type
}
