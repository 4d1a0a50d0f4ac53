package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitsync/internal/api"
)

func TestSplitDocuments(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"single", "a: 1\n", 1, false},
		{"two", "a: 1\n---\nb: 2\n", 2, false},
		{"leading separator", "---\na: 1\n---\nb: 2", 2, false},
		{"separator with comment", "a: 1\n--- # next\nb: 2\n", 2, false},
		{"consecutive separators", "a: 1\n---\n---\nb: 2\n", 3, false},
		{"invalid separator", "a: 1\n--- b: 2\nc: 3\n", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := SplitDocuments(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, docs, tt.want)
		})
	}
}

const validManifests = `apiVersion: v1
kind: ConfigMap
metadata:
  name: cfg
data:
  color: blue
---
# only a comment
---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: app
  namespace: web
spec:
  replicas: 2
`

func TestParseManifests(t *testing.T) {
	resources, errs := ParseManifests("apps/all.yaml", validManifests, "default")
	require.Empty(t, errs)
	require.Len(t, resources, 2)

	assert.Equal(t, api.ResourceKey{Kind: "ConfigMap", Namespace: "default", Name: "cfg"}, resources[0].Key)
	assert.Equal(t, 0, resources[0].Index)
	assert.Equal(t, api.ResourceKey{Kind: "Deployment", Namespace: "web", Name: "app"}, resources[1].Key)
	assert.Equal(t, 1, resources[1].Index)
	assert.Equal(t, "apps/all.yaml", resources[1].SourcePath)

	replicas, found, err := unstructuredInt(resources[1], "spec", "replicas")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), replicas)
}

func TestParseManifests_CRLF(t *testing.T) {
	data := "apiVersion: v1\r\nkind: ConfigMap\r\nmetadata:\r\n  name: cfg\r\n---\r\napiVersion: v1\r\nkind: Secret\r\nmetadata:\r\n  name: s\r\n"
	resources, errs := ParseManifests("x.yaml", data, "default")
	require.Empty(t, errs)
	assert.Len(t, resources, 2)
}

func TestParseManifests_ReportsEachInvalidDocument(t *testing.T) {
	data := `apiVersion: v1
kind: ConfigMap
metadata:
  name: good
---
apiVersion: v1
metadata:
  name: nokind
---
key: [unclosed
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: also-good
`
	resources, errs := ParseManifests("bad.yaml", data, "default")
	require.Len(t, errs, 2)
	assert.Equal(t, 1, errs[0].Index)
	assert.Equal(t, 2, errs[1].Index)
	assert.Equal(t, "bad.yaml", errs[0].Path)

	require.Len(t, resources, 2)
	assert.Equal(t, "good", resources[0].Key.Name)
	assert.Equal(t, "also-good", resources[1].Key.Name)
}

func TestParseManifests_FlattensLists(t *testing.T) {
	data := `apiVersion: v1
kind: List
items:
- apiVersion: v1
  kind: ConfigMap
  metadata:
    name: one
- apiVersion: v1
  kind: ConfigMap
  metadata:
    name: two
`
	resources, errs := ParseManifests("list.yaml", data, "default")
	require.Empty(t, errs)
	require.Len(t, resources, 2)
	assert.Equal(t, "one", resources[0].Key.Name)
	assert.Equal(t, "two", resources[1].Key.Name)
}

func TestBuildSnapshot_Duplicates(t *testing.T) {
	app := api.Application{Name: "a", Source: api.Source{RepoURL: "/repo"}, Destination: api.Destination{Namespace: "default"}}
	files := []manifestFile{
		{path: "a.yaml", data: "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: cfg\n"},
		{path: "b.yaml", data: "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: cfg\n"},
	}

	snap, err := buildSnapshot(app, "rev", files)
	require.Error(t, err)

	var srcErr *api.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, api.InvalidManifest, srcErr.Reason)
	require.Len(t, srcErr.Manifests, 1)
	assert.Equal(t, "b.yaml", srcErr.Manifests[0].Path)
	assert.Contains(t, srcErr.Manifests[0].Message, "duplicate resource ConfigMap/default/cfg")

	require.NotNil(t, snap)
	assert.Len(t, snap.Resources, 1)
}
