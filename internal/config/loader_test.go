package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitsync/internal/api"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadConfig_DefaultOnly(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, 3*time.Minute, cfg.Controller.RefreshInterval)
	require.Len(t, cfg.Clusters, 1)
	assert.Equal(t, ClusterTypeKubernetes, cfg.Clusters[0].EffectiveType())
}

func TestLoadConfig_Overrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), `
server:
  port: 9000
controller:
  refreshInterval: 45s
  maxHistory: 20
executor:
  healthTimeout: 0s
logging:
  level: debug
clusters:
  - name: sandbox
    type: memory
applications:
  - name: guestbook
    source:
      repoURL: https://git.example.com/deploy.git
      targetRevision: main
      path: guestbook
    destination:
      cluster: sandbox
      namespace: guestbook
    syncPolicy:
      automated: true
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host, "unset fields keep their default")
	assert.Equal(t, 45*time.Second, cfg.Controller.RefreshInterval)
	assert.Equal(t, 20, cfg.Controller.MaxHistory)
	assert.Zero(t, cfg.Executor.HealthTimeout)
	assert.Equal(t, []ClusterConfig{{Name: "sandbox", Type: ClusterTypeMemory}}, cfg.Clusters)

	require.Len(t, cfg.Applications, 1)
	app := cfg.Applications[0]
	assert.Equal(t, "guestbook", app.Name)
	assert.Equal(t, "main", app.Source.TargetRevision)
	assert.True(t, app.SyncPolicy.Automated)

	rc := cfg.ReconcilerConfig()
	assert.Equal(t, 45*time.Second, rc.RefreshInterval)
	assert.Equal(t, 20, rc.MaxHistory)
	assert.Equal(t, cfg.Executor.MaxAttempts, rc.Executor.MaxAttempts)
}

func TestLoadConfig_ApplicationsDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), `
clusters:
  - name: sandbox
    type: memory
`)
	writeFile(t, filepath.Join(dir, ApplicationsDir, "web.yaml"), `
name: frontend
source: {repoURL: /srv/manifests, path: frontend}
destination: {cluster: sandbox, namespace: web}
---
name: backend
source: {repoURL: /srv/manifests, path: backend}
destination: {cluster: sandbox, namespace: web}
syncPolicy: {automated: true, prune: true}
`)
	writeFile(t, filepath.Join(dir, ApplicationsDir, "billing.yml"), `
name: billing
source: {repoURL: https://git.example.com/billing.git}
destination: {cluster: sandbox}
`)
	writeFile(t, filepath.Join(dir, ApplicationsDir, "README.md"), "ignored")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	var names []string
	for _, app := range cfg.Applications {
		names = append(names, app.Name)
	}
	assert.Equal(t, []string{"billing", "frontend", "backend"}, names)
	assert.Equal(t, api.SyncPolicy{Automated: true, Prune: true}, cfg.Applications[2].SyncPolicy)
}

func TestLoadConfig_ParseError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "server:\n  port: [not, a, port]\n")

	_, err := LoadConfig(dir)
	require.Error(t, err)

	var errs *ConfigurationErrorCollection
	require.True(t, errors.As(err, &errs))
	require.Equal(t, 1, errs.Count())
	assert.Equal(t, ErrorKindParse, errs.Errors[0].Kind)
	assert.Equal(t, 2, errs.Errors[0].Line)
}

func TestLoadConfig_UnknownField(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "controller:\n  wokers: 3\n")

	_, err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wokers")
}

func TestLoadConfig_CollectsAllErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), `
controller:
  workers: 0
logging:
  format: xml
clusters:
  - name: sandbox
    type: memory
  - name: sandbox
    type: docker
`)
	writeFile(t, filepath.Join(dir, ApplicationsDir, "apps.yaml"), `
name: Guestbook
source: {repoURL: /srv/manifests}
destination: {cluster: sandbox}
---
name: billing
source: {repoURL: /srv/manifests}
destination: {cluster: production}
`)
	writeFile(t, filepath.Join(dir, ApplicationsDir, "broken.yaml"), "name: [")

	_, err := LoadConfig(dir)
	var errs *ConfigurationErrorCollection
	require.True(t, errors.As(err, &errs))

	var fields []string
	for _, e := range errs.Errors {
		fields = append(fields, e.Field)
	}
	assert.Contains(t, fields, "controller.workers")
	assert.Contains(t, fields, "logging.format")
	assert.Contains(t, fields, "clusters[1].name")
	assert.Contains(t, fields, "clusters[1].type")
	assert.Contains(t, fields, "applications[0].name")
	assert.Contains(t, fields, "applications[1].destination.cluster")

	assert.Len(t, errs.InCategory(CategoryApplications), 3, "two invalid applications and one broken file")
	assert.Contains(t, errs.Report(), "broken.yaml")
}
