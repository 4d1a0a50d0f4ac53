package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	"gitsync/internal/api"
	"gitsync/pkg/logging"
)

const (
	userConfigDir  = ".config/gitsync"
	configFileName = "config.yaml"

	// ApplicationsDir is the subdirectory holding one or more application
	// definitions per YAML file.
	ApplicationsDir = "applications"
)

// Categories of configuration errors.
const (
	CategoryConfig       = "config"
	CategoryApplications = "applications"
)

func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads configuration from a single directory. The directory
// should contain config.yaml and optionally an applications/ subdirectory.
// A missing config.yaml yields the defaults. Problems in the files are
// reported together as a ConfigurationErrorCollection.
func LoadConfig(configPath string) (GitsyncConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()
	errs := &ConfigurationErrorCollection{}

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return GitsyncConfig{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
	default:
		if err := decodeStrict(data, &config); err != nil {
			errs.Add(parseError(configFilePath, CategoryConfig, err))
			return GitsyncConfig{}, errs
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	storage := NewStorageWithPath(configPath)
	apps, appErrs := loadApplications(storage)
	config.Applications = append(config.Applications, apps...)
	for _, e := range appErrs.Errors {
		errs.Add(e)
	}

	validation := config.Validate()
	for _, e := range validation.Errors {
		errs.Add(e)
	}
	if errs.HasErrors() {
		return GitsyncConfig{}, errs
	}
	return config, nil
}

// decodeStrict decodes YAML into out, rejecting unknown fields.
func decodeStrict(data []byte, out interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// loadApplications reads every application definition file. Files may hold
// several documents, each one application.
func loadApplications(storage *Storage) ([]api.Application, *ConfigurationErrorCollection) {
	errs := &ConfigurationErrorCollection{}
	names, err := storage.List(ApplicationsDir)
	if err != nil {
		errs.addIO(storage.EntityDir(ApplicationsDir), CategoryApplications, err)
		return nil, errs
	}

	var apps []api.Application
	for _, name := range names {
		path := storage.Path(ApplicationsDir, name)
		data, err := storage.Load(ApplicationsDir, name)
		if err != nil {
			errs.addIO(path, CategoryApplications, err)
			continue
		}

		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		for {
			var app api.Application
			err := dec.Decode(&app)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errs.Add(parseError(path, CategoryApplications, err))
				break
			}
			if app.Name == "" && app.Source.RepoURL == "" {
				continue
			}
			apps = append(apps, app)
		}
	}
	logging.Debug("ConfigLoader", "Loaded %d applications from %s", len(apps), storage.EntityDir(ApplicationsDir))
	return apps, errs
}

var yamlLinePattern = regexp.MustCompile(`line (\d+)`)

func parseError(path, category string, err error) ConfigurationError {
	ce := ConfigurationError{
		Path:     path,
		Category: category,
		Kind:     ErrorKindParse,
		Message:  "invalid YAML: " + err.Error(),
		Hint:     "check indentation and field names against the documented format",
	}
	if m := yamlLinePattern.FindStringSubmatch(err.Error()); m != nil {
		ce.Line, _ = strconv.Atoi(m[1])
	}
	return ce
}
