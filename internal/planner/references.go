package planner

import (
	"strings"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"

	"gitsync/internal/api"
	"gitsync/internal/resource"
	"gitsync/pkg/logging"
)

// podTemplatePaths locates the pod template of kinds that run pods.
var podTemplatePaths = map[string][]string{
	"Deployment":  {"spec", "template"},
	"StatefulSet": {"spec", "template"},
	"DaemonSet":   {"spec", "template"},
	"ReplicaSet":  {"spec", "template"},
	"Job":         {"spec", "template"},
	"CronJob":     {"spec", "jobTemplate", "spec", "template"},
}

// podTemplate returns the pod template of obj, or false when its kind does
// not run pods.
func podTemplate(obj *unstructured.Unstructured) (corev1.PodTemplateSpec, bool) {
	var tmpl corev1.PodTemplateSpec
	if obj.GetKind() == "Pod" {
		spec, found, _ := unstructured.NestedMap(obj.Object, "spec")
		if !found {
			return tmpl, false
		}
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(spec, &tmpl.Spec); err != nil {
			return tmpl, false
		}
		tmpl.Labels = obj.GetLabels()
		return tmpl, true
	}
	path, ok := podTemplatePaths[obj.GetKind()]
	if !ok {
		return tmpl, false
	}
	raw, found, _ := unstructured.NestedMap(obj.Object, path...)
	if !found {
		return tmpl, false
	}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(raw, &tmpl); err != nil {
		logging.Debug("Planner", "Ignoring unreadable pod template of %s: %v", resource.KeyOf(obj), err)
		return tmpl, false
	}
	return tmpl, true
}

// references lists the keys obj declares a dependency on. Only declared
// references are followed: names in pod specs, ingress backends, RBAC
// bindings, service selectors, the namespace and the depends-on annotation.
// candidates are the other objects of the plan, used to resolve selectors.
func references(obj *unstructured.Unstructured, candidates []*unstructured.Unstructured) ([]api.ResourceKey, []string) {
	var refs []api.ResourceKey
	ns := obj.GetNamespace()
	add := func(kind, namespace, name string) {
		if name != "" {
			refs = append(refs, api.ResourceKey{Kind: kind, Namespace: namespace, Name: name})
		}
	}

	if ns != "" {
		add("Namespace", "", ns)
	}

	if tmpl, ok := podTemplate(obj); ok {
		podSpecReferences(tmpl.Spec, ns, add)
	}

	switch obj.GetKind() {
	case "Ingress":
		ingressReferences(obj, add)
	case "Service":
		serviceReferences(obj, candidates, add)
	case "RoleBinding", "ClusterRoleBinding":
		bindingReferences(obj, add)
	}

	var invalid []string
	if v := obj.GetAnnotations()[resource.DependsOnAnnotation]; v != "" {
		for _, part := range strings.Split(v, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			key, err := resource.ParseKey(part)
			if err != nil {
				invalid = append(invalid, err.Error())
				continue
			}
			if key.Namespace == "" && resource.IsNamespaced(key.Kind) {
				key.Namespace = ns
			}
			refs = append(refs, key)
		}
	}
	return refs, invalid
}

func podSpecReferences(spec corev1.PodSpec, ns string, add func(kind, namespace, name string)) {
	add("ServiceAccount", ns, spec.ServiceAccountName)
	for _, s := range spec.ImagePullSecrets {
		add("Secret", ns, s.Name)
	}
	for _, v := range spec.Volumes {
		switch {
		case v.ConfigMap != nil:
			add("ConfigMap", ns, v.ConfigMap.Name)
		case v.Secret != nil:
			add("Secret", ns, v.Secret.SecretName)
		case v.PersistentVolumeClaim != nil:
			add("PersistentVolumeClaim", ns, v.PersistentVolumeClaim.ClaimName)
		case v.Projected != nil:
			for _, src := range v.Projected.Sources {
				if src.ConfigMap != nil {
					add("ConfigMap", ns, src.ConfigMap.Name)
				}
				if src.Secret != nil {
					add("Secret", ns, src.Secret.Name)
				}
			}
		}
	}
	containers := append(append([]corev1.Container(nil), spec.InitContainers...), spec.Containers...)
	for _, c := range containers {
		for _, e := range c.EnvFrom {
			if e.ConfigMapRef != nil {
				add("ConfigMap", ns, e.ConfigMapRef.Name)
			}
			if e.SecretRef != nil {
				add("Secret", ns, e.SecretRef.Name)
			}
		}
		for _, e := range c.Env {
			if e.ValueFrom == nil {
				continue
			}
			if e.ValueFrom.ConfigMapKeyRef != nil {
				add("ConfigMap", ns, e.ValueFrom.ConfigMapKeyRef.Name)
			}
			if e.ValueFrom.SecretKeyRef != nil {
				add("Secret", ns, e.ValueFrom.SecretKeyRef.Name)
			}
		}
	}
}

func ingressReferences(obj *unstructured.Unstructured, add func(kind, namespace, name string)) {
	var ing networkingv1.Ingress
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &ing); err != nil {
		return
	}
	ns := obj.GetNamespace()
	backend := func(b *networkingv1.IngressBackend) {
		if b != nil && b.Service != nil {
			add("Service", ns, b.Service.Name)
		}
	}
	backend(ing.Spec.DefaultBackend)
	for _, r := range ing.Spec.Rules {
		if r.HTTP == nil {
			continue
		}
		for i := range r.HTTP.Paths {
			backend(&r.HTTP.Paths[i].Backend)
		}
	}
	for _, tls := range ing.Spec.TLS {
		add("Secret", ns, tls.SecretName)
	}
}

// serviceReferences makes a service depend on the workloads it selects.
func serviceReferences(obj *unstructured.Unstructured, candidates []*unstructured.Unstructured, add func(kind, namespace, name string)) {
	selector, found, _ := unstructured.NestedStringMap(obj.Object, "spec", "selector")
	if !found || len(selector) == 0 {
		return
	}
	sel := labels.SelectorFromSet(selector)
	for _, c := range candidates {
		if c.GetNamespace() != obj.GetNamespace() {
			continue
		}
		tmpl, ok := podTemplate(c)
		if !ok {
			continue
		}
		if sel.Matches(labels.Set(tmpl.Labels)) {
			add(c.GetKind(), c.GetNamespace(), c.GetName())
		}
	}
}

func bindingReferences(obj *unstructured.Unstructured, add func(kind, namespace, name string)) {
	var b rbacv1.RoleBinding
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &b); err != nil {
		return
	}
	switch b.RoleRef.Kind {
	case "Role":
		add("Role", obj.GetNamespace(), b.RoleRef.Name)
	case "ClusterRole":
		add("ClusterRole", "", b.RoleRef.Name)
	}
	for _, s := range b.Subjects {
		if s.Kind != rbacv1.ServiceAccountKind {
			continue
		}
		ns := s.Namespace
		if ns == "" {
			ns = obj.GetNamespace()
		}
		add("ServiceAccount", ns, s.Name)
	}
}
