package diff

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"

	"gitsync/internal/api"
	"gitsync/internal/resource"
)

const app = "guestbook"

func mustObject(t *testing.T, doc string) *unstructured.Unstructured {
	t.Helper()
	data, err := yaml.YAMLToJSON([]byte(doc))
	require.NoError(t, err)
	obj := &unstructured.Unstructured{}
	require.NoError(t, obj.UnmarshalJSON(data))
	return obj
}

func desiredOf(t *testing.T, doc string) resource.Desired {
	t.Helper()
	d, err := resource.NewDesired(mustObject(t, doc), "default", "app.yaml", 0)
	require.NoError(t, err)
	return d
}

// liveOf simulates what the destination returns after applying doc, plus
// whatever server-populated fields mutate adds.
func liveOf(t *testing.T, doc string, mutate func(obj *unstructured.Unstructured)) resource.Live {
	t.Helper()
	d := desiredOf(t, doc)
	obj, err := resource.ForApply(d.Object, app)
	require.NoError(t, err)
	obj.SetUID("0f6c7a9e")
	obj.SetResourceVersion("12")
	obj.SetGeneration(1)
	if mutate != nil {
		mutate(obj)
	}
	return resource.NewLive(obj)
}

const configMapDoc = `
apiVersion: v1
kind: ConfigMap
metadata:
  name: settings
data:
  mode: prod
`

const deploymentDoc = `
apiVersion: apps/v1
kind: Deployment
metadata:
  name: app
spec:
  replicas: 2
  selector:
    matchLabels:
      app: web
  template:
    metadata:
      labels:
        app: web
    spec:
      containers:
      - name: web
        image: nginx:1.25
        ports:
        - containerPort: 80
`

const serviceDoc = `
apiVersion: v1
kind: Service
metadata:
  name: web
spec:
  selector:
    app: web
  ports:
  - port: 80
`

func TestCompare_MissingOrphanedAndSorting(t *testing.T) {
	desired := []resource.Desired{desiredOf(t, serviceDoc), desiredOf(t, configMapDoc)}
	live := []resource.Live{
		liveOf(t, configMapDoc, nil),
		liveOf(t, `
apiVersion: v1
kind: Service
metadata:
  name: legacy
spec:
  ports:
  - port: 8080
`, nil),
	}

	diffs := Compare(desired, live, Options{Application: app})
	require.Len(t, diffs, 2)
	assert.Equal(t, api.ResourceKey{Kind: "ConfigMap", Namespace: "default", Name: "settings"}, diffs[0].Key)
	assert.Equal(t, api.DiffInSync, diffs[0].Status)
	assert.Equal(t, "web", diffs[1].Key.Name)
	assert.Equal(t, api.DiffMissing, diffs[1].Status)
	assert.True(t, Drifted(diffs))

	diffs = Compare(desired, live, Options{Prune: true, Application: app})
	require.Len(t, diffs, 3)
	assert.Equal(t, "legacy", diffs[1].Key.Name)
	assert.Equal(t, api.DiffOrphaned, diffs[1].Status)
	assert.NotNil(t, diffs[1].Live)
	assert.Nil(t, diffs[1].Desired)
}

func TestCompare_Deterministic(t *testing.T) {
	desired := []resource.Desired{desiredOf(t, deploymentDoc), desiredOf(t, serviceDoc), desiredOf(t, configMapDoc)}
	live := []resource.Live{
		liveOf(t, deploymentDoc, func(obj *unstructured.Unstructured) {
			_ = unstructured.SetNestedField(obj.Object, int64(5), "spec", "replicas")
		}),
		liveOf(t, configMapDoc, nil),
	}

	first := Summaries(Compare(desired, live, Options{Prune: true, Application: app}))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Summaries(Compare(desired, live, Options{Prune: true, Application: app})))
	}
}

func TestCompare_IgnoresServerFieldsAndDefaults(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		mutate func(obj *unstructured.Unstructured)
	}{
		{
			name: "deployment with defaults and status",
			doc:  deploymentDoc,
			mutate: func(obj *unstructured.Unstructured) {
				_ = unstructured.SetNestedField(obj.Object, int64(10), "spec", "revisionHistoryLimit")
				containers, _, _ := unstructured.NestedSlice(obj.Object, "spec", "template", "spec", "containers")
				c := containers[0].(map[string]interface{})
				c["imagePullPolicy"] = "IfNotPresent"
				c["terminationMessagePath"] = "/dev/termination-log"
				c["ports"] = []interface{}{map[string]interface{}{"containerPort": int64(80), "protocol": "TCP"}}
				_ = unstructured.SetNestedSlice(obj.Object, containers, "spec", "template", "spec", "containers")
				_ = unstructured.SetNestedMap(obj.Object, map[string]interface{}{"observedGeneration": int64(1), "readyReplicas": int64(2)}, "status")
				obj.SetAnnotations(map[string]string{
					resource.LastAppliedAnnotation:      "{}",
					"deployment.kubernetes.io/revision": "3",
				})
			},
		},
		{
			name: "service with allocated cluster ip",
			doc:  serviceDoc,
			mutate: func(obj *unstructured.Unstructured) {
				_ = unstructured.SetNestedField(obj.Object, "10.96.0.12", "spec", "clusterIP")
				_ = unstructured.SetNestedField(obj.Object, "ClusterIP", "spec", "type")
				_ = unstructured.SetNestedSlice(obj.Object, []interface{}{map[string]interface{}{
					"port": int64(80), "protocol": "TCP", "targetPort": int64(80),
				}}, "spec", "ports")
			},
		},
		{
			name: "secret stringData folded into data",
			doc: `
apiVersion: v1
kind: Secret
metadata:
  name: creds
stringData:
  password: hunter2
`,
			mutate: func(obj *unstructured.Unstructured) {
				unstructured.RemoveNestedField(obj.Object, "stringData")
				_ = unstructured.SetNestedStringMap(obj.Object, map[string]string{"password": "aHVudGVyMg=="}, "data")
				_ = unstructured.SetNestedField(obj.Object, "Opaque", "type")
			},
		},
		{
			name: "custom resource with extra live fields",
			doc: `
apiVersion: example.com/v1
kind: Widget
metadata:
  name: w
spec:
  size: 3
  tags: [a, b]
`,
			mutate: func(obj *unstructured.Unstructured) {
				_ = unstructured.SetNestedField(obj.Object, "fast", "spec", "mode")
				_ = unstructured.SetNestedField(obj.Object, "ready", "status", "phase")
			},
		},
		{
			name: "namespace with api server label",
			doc: `
apiVersion: v1
kind: Namespace
metadata:
  name: team
`,
			mutate: func(obj *unstructured.Unstructured) {
				labels := obj.GetLabels()
				labels["kubernetes.io/metadata.name"] = "team"
				obj.SetLabels(labels)
			},
		},
		{
			name: "labels and annotations added by other controllers",
			doc: `
apiVersion: apps/v1
kind: Deployment
metadata:
  name: app
  labels:
    team: web
spec:
  replicas: 2
  selector:
    matchLabels:
      app: web
  template:
    metadata:
      labels:
        app: web
    spec:
      containers:
      - name: web
        image: nginx:1.25
`,
			mutate: func(obj *unstructured.Unstructured) {
				labels := obj.GetLabels()
				labels["istio.io/rev"] = "stable"
				obj.SetLabels(labels)
				obj.SetAnnotations(map[string]string{"sidecar.istio.io/status": "injected"})
				_ = unstructured.SetNestedStringMap(obj.Object, map[string]string{
					"kubectl.kubernetes.io/restartedAt": "2026-10-01T10:00:00Z",
				}, "spec", "template", "metadata", "annotations")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diffs := Compare([]resource.Desired{desiredOf(t, tt.doc)}, []resource.Live{liveOf(t, tt.doc, tt.mutate)}, Options{Application: app})
			require.Len(t, diffs, 1)
			assert.Equal(t, api.DiffInSync, diffs[0].Status, diffs[0].Text)
		})
	}
}

func TestCompare_OwnedLabelChangeIsDrift(t *testing.T) {
	doc := `
apiVersion: v1
kind: Namespace
metadata:
  name: team
  labels:
    tier: backend
`
	live := liveOf(t, doc, func(obj *unstructured.Unstructured) {
		labels := obj.GetLabels()
		labels["tier"] = "frontend"
		labels["kubernetes.io/metadata.name"] = "team"
		obj.SetLabels(labels)
	})
	diffs := Compare([]resource.Desired{desiredOf(t, doc)}, []resource.Live{live}, Options{Application: app})
	require.Len(t, diffs, 1)
	assert.Equal(t, api.DiffOutOfSync, diffs[0].Status)
	assert.Contains(t, diffs[0].Text, "frontend")
	assert.NotContains(t, diffs[0].Text, "metadata.name")
}

func TestCompare_ReplicaDriftProducesPatch(t *testing.T) {
	live := liveOf(t, deploymentDoc, func(obj *unstructured.Unstructured) {
		_ = unstructured.SetNestedField(obj.Object, int64(5), "spec", "replicas")
	})
	diffs := Compare([]resource.Desired{desiredOf(t, deploymentDoc)}, []resource.Live{live}, Options{Application: app})
	require.Len(t, diffs, 1)
	d := diffs[0]
	assert.Equal(t, api.DiffOutOfSync, d.Status)
	assert.False(t, d.Replace)
	assert.Contains(t, d.Text, "Replicas")

	var patch map[string]interface{}
	require.NoError(t, json.Unmarshal(d.Patch, &patch))
	spec := patch["spec"].(map[string]interface{})
	assert.EqualValues(t, 2, spec["replicas"])
	labels := patch["metadata"].(map[string]interface{})["labels"].(map[string]interface{})
	assert.Equal(t, app, labels[resource.TrackingLabel])
}

func TestCompare_PatchRemovesDroppedFields(t *testing.T) {
	previous := `
apiVersion: v1
kind: ConfigMap
metadata:
  name: settings
data:
  mode: dev
  legacy: "true"
`
	live := liveOf(t, previous, nil)
	diffs := Compare([]resource.Desired{desiredOf(t, configMapDoc)}, []resource.Live{live}, Options{Application: app})
	require.Len(t, diffs, 1)
	require.Equal(t, api.DiffOutOfSync, diffs[0].Status)

	var patch map[string]interface{}
	require.NoError(t, json.Unmarshal(diffs[0].Patch, &patch))
	data := patch["data"].(map[string]interface{})
	assert.Equal(t, "prod", data["mode"])
	v, present := data["legacy"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestCompare_SecretValuesNeverInText(t *testing.T) {
	doc := `
apiVersion: v1
kind: Secret
metadata:
  name: creds
stringData:
  password: correct-horse
`
	live := liveOf(t, doc, func(obj *unstructured.Unstructured) {
		unstructured.RemoveNestedField(obj.Object, "stringData")
		_ = unstructured.SetNestedStringMap(obj.Object, map[string]string{"password": "b2xkLXZhbHVl"}, "data")
	})
	diffs := Compare([]resource.Desired{desiredOf(t, doc)}, []resource.Live{live}, Options{Application: app})
	require.Len(t, diffs, 1)
	assert.Equal(t, api.DiffOutOfSync, diffs[0].Status)
	assert.NotContains(t, diffs[0].Text, "correct-horse")
	assert.NotContains(t, diffs[0].Text, "old-value")
	assert.NotContains(t, diffs[0].Text, "b2xkLXZhbHVl")
	assert.Contains(t, diffs[0].Text, "sha256:")
}

func TestCompare_ImmutableFieldsForceReplace(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		mutate func(obj *unstructured.Unstructured)
		field  string
	}{
		{
			name: "deployment selector",
			doc:  deploymentDoc,
			mutate: func(obj *unstructured.Unstructured) {
				_ = unstructured.SetNestedStringMap(obj.Object, map[string]string{"app": "old"}, "spec", "selector", "matchLabels")
			},
			field: "spec.selector",
		},
		{
			name: "immutable configmap data",
			doc: `
apiVersion: v1
kind: ConfigMap
metadata:
  name: frozen
immutable: true
data:
  mode: prod
`,
			mutate: func(obj *unstructured.Unstructured) {
				_ = unstructured.SetNestedStringMap(obj.Object, map[string]string{"mode": "dev"}, "data")
			},
			field: "data",
		},
		{
			name: "job template",
			doc: `
apiVersion: batch/v1
kind: Job
metadata:
  name: migrate
spec:
  template:
    spec:
      restartPolicy: Never
      containers:
      - name: migrate
        image: migrate:v2
`,
			mutate: func(obj *unstructured.Unstructured) {
				containers, _, _ := unstructured.NestedSlice(obj.Object, "spec", "template", "spec", "containers")
				containers[0].(map[string]interface{})["image"] = "migrate:v1"
				_ = unstructured.SetNestedSlice(obj.Object, containers, "spec", "template", "spec", "containers")
			},
			field: "spec.template",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diffs := Compare([]resource.Desired{desiredOf(t, tt.doc)}, []resource.Live{liveOf(t, tt.doc, tt.mutate)}, Options{Application: app})
			require.Len(t, diffs, 1)
			d := diffs[0]
			assert.Equal(t, api.DiffOutOfSync, d.Status)
			assert.True(t, d.Replace)
			assert.Contains(t, d.ImmutableFields, tt.field)
			assert.Nil(t, d.Patch)
			assert.Equal(t, []string{tt.field}, d.Summary().ImmutableFields)
		})
	}
}

func TestDefaultPullPolicy(t *testing.T) {
	assert.Equal(t, "Always", string(defaultPullPolicy("nginx")))
	assert.Equal(t, "Always", string(defaultPullPolicy("nginx:latest")))
	assert.Equal(t, "IfNotPresent", string(defaultPullPolicy("nginx:1.25")))
	assert.Equal(t, "IfNotPresent", string(defaultPullPolicy("registry:5000/team/app:v1")))
	assert.Equal(t, "Always", string(defaultPullPolicy("registry:5000/team/app")))
	assert.Equal(t, "IfNotPresent", string(defaultPullPolicy("nginx@sha256:abc")))
}
