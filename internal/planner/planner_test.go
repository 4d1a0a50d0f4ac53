package planner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"

	"gitsync/internal/api"
	"gitsync/internal/diff"
	"gitsync/internal/resource"
)

func object(t *testing.T, doc string) *unstructured.Unstructured {
	t.Helper()
	data, err := yaml.YAMLToJSON([]byte(doc))
	require.NoError(t, err)
	obj := &unstructured.Unstructured{}
	require.NoError(t, obj.UnmarshalJSON(data))
	if resource.IsNamespaced(obj.GetKind()) && obj.GetNamespace() == "" {
		obj.SetNamespace("default")
	}
	return obj
}

func missing(t *testing.T, doc string) diff.ResourceDiff {
	obj := object(t, doc)
	d, err := resource.NewDesired(obj, "default", "app.yaml", 0)
	require.NoError(t, err)
	return diff.ResourceDiff{Key: d.Key, Status: api.DiffMissing, Desired: &d}
}

func outOfSync(t *testing.T, doc string, replace bool) diff.ResourceDiff {
	rd := missing(t, doc)
	rd.Status = api.DiffOutOfSync
	rd.Replace = replace
	if !replace {
		rd.Patch = []byte(`{}`)
	}
	return rd
}

func orphaned(t *testing.T, doc string) diff.ResourceDiff {
	live := resource.NewLive(object(t, doc))
	return diff.ResourceDiff{Key: live.Key, Status: api.DiffOrphaned, Live: &live}
}

const (
	cmDoc = `
apiVersion: v1
kind: ConfigMap
metadata:
  name: cfg
data:
  k: v
`
	deployDoc = `
apiVersion: apps/v1
kind: Deployment
metadata:
  name: app
spec:
  selector:
    matchLabels: {app: web}
  template:
    metadata:
      labels: {app: web}
    spec:
      containers:
      - name: web
        image: nginx:1.25
        envFrom:
        - configMapRef: {name: cfg}
`
	svcDoc = `
apiVersion: v1
kind: Service
metadata:
  name: web
spec:
  selector: {app: web}
  ports:
  - port: 80
`
	ingressDoc = `
apiVersion: networking.k8s.io/v1
kind: Ingress
metadata:
  name: web
spec:
  rules:
  - host: example.com
    http:
      paths:
      - path: /
        pathType: Prefix
        backend:
          service:
            name: web
            port: {number: 80}
`
)

func keysOf(p *Plan) []string {
	var out []string
	for _, s := range p.Steps {
		out = append(out, string(s.Action.Type)+" "+s.Action.Key.String())
	}
	return out
}

func TestBuild_TierOrderForCreate(t *testing.T) {
	diffs := []diff.ResourceDiff{missing(t, svcDoc), missing(t, deployDoc), missing(t, cmDoc)}

	plan, err := Build(diffs, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Create ConfigMap/default/cfg",
		"Create Deployment/default/app",
		"Create Service/default/web",
	}, keysOf(plan))
	assert.Equal(t, [][]int{{1}, {2}, {3}}, plan.Waves)

	deploy := plan.Step(2).Action
	assert.Equal(t, 2, deploy.ID)
	assert.Equal(t, resource.TierWorkload, deploy.Tier)
	assert.Equal(t, []int{1}, deploy.Predecessors)
	assert.Equal(t, api.OutcomePending, deploy.Outcome)
	assert.Equal(t, []int{2}, plan.Step(3).Action.Predecessors, "service depends on the workload it selects")
}

func TestBuild_ReverseOrderForDelete(t *testing.T) {
	diffs := []diff.ResourceDiff{orphaned(t, cmDoc), orphaned(t, svcDoc), orphaned(t, deployDoc)}

	plan, err := Build(diffs, Options{AllowDestructive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Delete Service/default/web",
		"Delete Deployment/default/app",
		"Delete ConfigMap/default/cfg",
	}, keysOf(plan))

	plan, err = Build(diffs, Options{})
	require.NoError(t, err)
	assert.True(t, plan.Empty(), "orphans are untouched without destructive permission")
}

func TestBuild_ApplyBeforePrune(t *testing.T) {
	diffs := []diff.ResourceDiff{
		orphaned(t, `
apiVersion: v1
kind: Service
metadata:
  name: legacy
spec:
  ports:
  - port: 8080
`),
		outOfSync(t, deployDoc, false),
		missing(t, cmDoc),
		{Key: api.ResourceKey{Kind: "Secret", Namespace: "default", Name: "ok"}, Status: api.DiffInSync},
	}

	plan, err := Build(diffs, Options{AllowDestructive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Create ConfigMap/default/cfg",
		"Update Deployment/default/app",
		"Delete Service/default/legacy",
	}, keysOf(plan))
}

func TestBuild_WavesWithinTier(t *testing.T) {
	diffs := []diff.ResourceDiff{
		missing(t, ingressDoc),
		missing(t, svcDoc),
		missing(t, `
apiVersion: v1
kind: Service
metadata:
  name: admin
spec:
  ports:
  - port: 9090
`),
	}

	plan, err := Build(diffs, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Create Service/default/admin",
		"Create Service/default/web",
		"Create Ingress/default/web",
	}, keysOf(plan))
	assert.Equal(t, [][]int{{1, 2}, {3}}, plan.Waves)
	assert.Equal(t, []int{2}, plan.Step(3).Action.Predecessors)
}

func TestBuild_ReplaceAction(t *testing.T) {
	plan, err := Build([]diff.ResourceDiff{outOfSync(t, deployDoc, true)}, Options{})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, api.ActionReplace, plan.Steps[0].Action.Type)
}

func TestBuild_NamespaceFirst(t *testing.T) {
	diffs := []diff.ResourceDiff{
		missing(t, `
apiVersion: v1
kind: ConfigMap
metadata:
  name: cfg
  namespace: apps
`),
		missing(t, `
apiVersion: v1
kind: Namespace
metadata:
  name: apps
`),
	}
	plan, err := Build(diffs, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Create Namespace/apps", "Create ConfigMap/apps/cfg"}, keysOf(plan))
	assert.Equal(t, []int{1}, plan.Step(2).Action.Predecessors)
}

func TestBuild_CyclicDependency(t *testing.T) {
	t.Run("reference to a later tier", func(t *testing.T) {
		cm := `
apiVersion: v1
kind: ConfigMap
metadata:
  name: cfg
  annotations:
    gitsync.io/depends-on: Deployment/default/app
`
		_, err := Build([]diff.ResourceDiff{missing(t, cm), missing(t, deployDoc)}, Options{})
		var planErr *api.PlanError
		require.True(t, errors.As(err, &planErr))
		assert.Equal(t, api.CyclicDependency, planErr.Reason)
		assert.Contains(t, planErr.Cycle, api.ResourceKey{Kind: "Deployment", Namespace: "default", Name: "app"})
	})

	t.Run("cycle inside a tier", func(t *testing.T) {
		a := `
apiVersion: v1
kind: ConfigMap
metadata:
  name: a
  annotations:
    gitsync.io/depends-on: ConfigMap/default/b
`
		b := `
apiVersion: v1
kind: ConfigMap
metadata:
  name: b
  annotations:
    gitsync.io/depends-on: ConfigMap/a
`
		_, err := Build([]diff.ResourceDiff{missing(t, a), missing(t, b)}, Options{})
		var planErr *api.PlanError
		require.True(t, errors.As(err, &planErr))
		assert.Equal(t, api.CyclicDependency, planErr.Reason)
		assert.Len(t, planErr.Cycle, 3)
		assert.True(t, api.IsPlanError(err))
	})

	t.Run("reference outside the plan is ignored", func(t *testing.T) {
		cm := `
apiVersion: v1
kind: ConfigMap
metadata:
  name: cfg
  annotations:
    gitsync.io/depends-on: Deployment/default/elsewhere, not-a-key
`
		plan, err := Build([]diff.ResourceDiff{missing(t, cm)}, Options{})
		require.NoError(t, err)
		assert.Len(t, plan.Steps, 1)
	})
}

func TestBuild_Deterministic(t *testing.T) {
	diffs := []diff.ResourceDiff{missing(t, ingressDoc), missing(t, svcDoc), missing(t, deployDoc), missing(t, cmDoc)}
	first, err := Build(diffs, Options{})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Build(diffs, Options{})
		require.NoError(t, err)
		assert.Equal(t, first.Actions(), again.Actions())
	}
}

func TestReferences(t *testing.T) {
	pod := object(t, `
apiVersion: apps/v1
kind: StatefulSet
metadata:
  name: db
spec:
  serviceName: db
  template:
    metadata:
      labels: {app: db}
    spec:
      serviceAccountName: db
      imagePullSecrets:
      - name: registry
      volumes:
      - name: data
        persistentVolumeClaim: {claimName: data}
      - name: conf
        configMap: {name: db-conf}
      containers:
      - name: db
        image: postgres:16
        env:
        - name: PASSWORD
          valueFrom:
            secretKeyRef: {name: db-creds, key: password}
`)
	refs, invalid := references(pod, nil)
	assert.Empty(t, invalid)
	assert.ElementsMatch(t, []api.ResourceKey{
		{Kind: "Namespace", Name: "default"},
		{Kind: "ServiceAccount", Namespace: "default", Name: "db"},
		{Kind: "Secret", Namespace: "default", Name: "registry"},
		{Kind: "PersistentVolumeClaim", Namespace: "default", Name: "data"},
		{Kind: "ConfigMap", Namespace: "default", Name: "db-conf"},
		{Kind: "Secret", Namespace: "default", Name: "db-creds"},
	}, refs)

	binding := object(t, `
apiVersion: rbac.authorization.k8s.io/v1
kind: RoleBinding
metadata:
  name: read
roleRef:
  apiGroup: rbac.authorization.k8s.io
  kind: Role
  name: reader
subjects:
- kind: ServiceAccount
  name: app
`)
	refs, _ = references(binding, nil)
	assert.Contains(t, refs, api.ResourceKey{Kind: "Role", Namespace: "default", Name: "reader"})
	assert.Contains(t, refs, api.ResourceKey{Kind: "ServiceAccount", Namespace: "default", Name: "app"})
}
