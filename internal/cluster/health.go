package cluster

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"

	"gitsync/internal/api"
	"gitsync/internal/resource"
)

// healthFunc evaluates one kind. The object has already been converted from
// its unstructured form.
type healthFunc func(obj *unstructured.Unstructured) (api.HealthStatus, string, error)

var healthChecks = map[string]healthFunc{
	"Deployment":               deploymentHealth,
	"StatefulSet":              statefulSetHealth,
	"DaemonSet":                daemonSetHealth,
	"Job":                      jobHealth,
	"Pod":                      podHealth,
	"PersistentVolumeClaim":    pvcHealth,
	"Service":                  serviceHealth,
	"Ingress":                  ingressHealth,
	"Namespace":                namespaceHealth,
	"CustomResourceDefinition": crdHealth,
}

// EvaluateHealth returns the readiness of a live resource. Kinds without a
// dedicated check are healthy once the observed generation caught up.
func EvaluateHealth(live resource.Live) (api.HealthStatus, string) {
	check, ok := healthChecks[live.Key.Kind]
	if !ok {
		return genericHealth(live)
	}
	status, msg, err := check(live.Object)
	if err != nil {
		return api.HealthUnknown, fmt.Sprintf("failed to evaluate health: %v", err)
	}
	return status, msg
}

func genericHealth(live resource.Live) (api.HealthStatus, string) {
	if _, found, _ := unstructured.NestedInt64(live.Object.Object, "status", "observedGeneration"); found {
		if live.ObservedGeneration < live.Generation {
			return api.HealthProgressing, "waiting for the latest generation to be observed"
		}
	}
	return api.HealthHealthy, ""
}

func convert[T any](obj *unstructured.Unstructured) (*T, error) {
	var out T
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func deploymentHealth(obj *unstructured.Unstructured) (api.HealthStatus, string, error) {
	d, err := convert[appsv1.Deployment](obj)
	if err != nil {
		return "", "", err
	}
	for _, c := range d.Status.Conditions {
		if c.Type == appsv1.DeploymentProgressing && c.Reason == "ProgressDeadlineExceeded" {
			return api.HealthDegraded, c.Message, nil
		}
	}
	if d.Generation > d.Status.ObservedGeneration {
		return api.HealthProgressing, "waiting for rollout to be observed", nil
	}
	replicas := int32(1)
	if d.Spec.Replicas != nil {
		replicas = *d.Spec.Replicas
	}
	if d.Status.UpdatedReplicas < replicas {
		return api.HealthProgressing, fmt.Sprintf("%d of %d replicas updated", d.Status.UpdatedReplicas, replicas), nil
	}
	if d.Status.AvailableReplicas < replicas {
		return api.HealthProgressing, fmt.Sprintf("%d of %d replicas available", d.Status.AvailableReplicas, replicas), nil
	}
	return api.HealthHealthy, "", nil
}

func statefulSetHealth(obj *unstructured.Unstructured) (api.HealthStatus, string, error) {
	s, err := convert[appsv1.StatefulSet](obj)
	if err != nil {
		return "", "", err
	}
	if s.Generation > s.Status.ObservedGeneration {
		return api.HealthProgressing, "waiting for rollout to be observed", nil
	}
	replicas := int32(1)
	if s.Spec.Replicas != nil {
		replicas = *s.Spec.Replicas
	}
	if s.Status.ReadyReplicas < replicas {
		return api.HealthProgressing, fmt.Sprintf("%d of %d replicas ready", s.Status.ReadyReplicas, replicas), nil
	}
	if s.Spec.UpdateStrategy.Type != appsv1.OnDeleteStatefulSetStrategyType &&
		s.Status.UpdateRevision != "" && s.Status.CurrentRevision != s.Status.UpdateRevision {
		return api.HealthProgressing, "waiting for update to complete", nil
	}
	return api.HealthHealthy, "", nil
}

func daemonSetHealth(obj *unstructured.Unstructured) (api.HealthStatus, string, error) {
	d, err := convert[appsv1.DaemonSet](obj)
	if err != nil {
		return "", "", err
	}
	if d.Generation > d.Status.ObservedGeneration {
		return api.HealthProgressing, "waiting for rollout to be observed", nil
	}
	if d.Status.UpdatedNumberScheduled < d.Status.DesiredNumberScheduled {
		return api.HealthProgressing, fmt.Sprintf("%d of %d pods updated", d.Status.UpdatedNumberScheduled, d.Status.DesiredNumberScheduled), nil
	}
	if d.Status.NumberAvailable < d.Status.DesiredNumberScheduled {
		return api.HealthProgressing, fmt.Sprintf("%d of %d pods available", d.Status.NumberAvailable, d.Status.DesiredNumberScheduled), nil
	}
	return api.HealthHealthy, "", nil
}

func jobHealth(obj *unstructured.Unstructured) (api.HealthStatus, string, error) {
	j, err := convert[batchv1.Job](obj)
	if err != nil {
		return "", "", err
	}
	for _, c := range j.Status.Conditions {
		if c.Status != corev1.ConditionTrue {
			continue
		}
		switch c.Type {
		case batchv1.JobComplete:
			return api.HealthHealthy, "", nil
		case batchv1.JobFailed:
			return api.HealthDegraded, c.Message, nil
		}
	}
	return api.HealthProgressing, "job is running", nil
}

func podHealth(obj *unstructured.Unstructured) (api.HealthStatus, string, error) {
	p, err := convert[corev1.Pod](obj)
	if err != nil {
		return "", "", err
	}
	for _, cs := range p.Status.ContainerStatuses {
		if w := cs.State.Waiting; w != nil && (w.Reason == "CrashLoopBackOff" || w.Reason == "ImagePullBackOff" || w.Reason == "ErrImagePull") {
			return api.HealthDegraded, fmt.Sprintf("container %s: %s", cs.Name, w.Reason), nil
		}
	}
	switch p.Status.Phase {
	case corev1.PodSucceeded:
		return api.HealthHealthy, "", nil
	case corev1.PodFailed:
		return api.HealthDegraded, p.Status.Message, nil
	case corev1.PodRunning:
		for _, c := range p.Status.Conditions {
			if c.Type == corev1.PodReady && c.Status == corev1.ConditionTrue {
				return api.HealthHealthy, "", nil
			}
		}
		return api.HealthProgressing, "pod is not ready", nil
	default:
		return api.HealthProgressing, "pod is pending", nil
	}
}

func pvcHealth(obj *unstructured.Unstructured) (api.HealthStatus, string, error) {
	pvc, err := convert[corev1.PersistentVolumeClaim](obj)
	if err != nil {
		return "", "", err
	}
	switch pvc.Status.Phase {
	case corev1.ClaimBound:
		return api.HealthHealthy, "", nil
	case corev1.ClaimLost:
		return api.HealthDegraded, "claim lost its volume", nil
	default:
		return api.HealthProgressing, "waiting for volume to be bound", nil
	}
}

func serviceHealth(obj *unstructured.Unstructured) (api.HealthStatus, string, error) {
	svc, err := convert[corev1.Service](obj)
	if err != nil {
		return "", "", err
	}
	if svc.Spec.Type == corev1.ServiceTypeLoadBalancer && len(svc.Status.LoadBalancer.Ingress) == 0 {
		return api.HealthProgressing, "waiting for load balancer", nil
	}
	return api.HealthHealthy, "", nil
}

func ingressHealth(obj *unstructured.Unstructured) (api.HealthStatus, string, error) {
	ing, err := convert[networkingv1.Ingress](obj)
	if err != nil {
		return "", "", err
	}
	if len(ing.Status.LoadBalancer.Ingress) == 0 {
		return api.HealthProgressing, "waiting for ingress address", nil
	}
	return api.HealthHealthy, "", nil
}

func namespaceHealth(obj *unstructured.Unstructured) (api.HealthStatus, string, error) {
	ns, err := convert[corev1.Namespace](obj)
	if err != nil {
		return "", "", err
	}
	if ns.Status.Phase == corev1.NamespaceTerminating {
		return api.HealthProgressing, "namespace is terminating", nil
	}
	return api.HealthHealthy, "", nil
}

func crdHealth(obj *unstructured.Unstructured) (api.HealthStatus, string, error) {
	crd, err := convert[apiextensionsv1.CustomResourceDefinition](obj)
	if err != nil {
		return "", "", err
	}
	for _, c := range crd.Status.Conditions {
		if c.Type == apiextensionsv1.Established && c.Status == apiextensionsv1.ConditionTrue {
			return api.HealthHealthy, "", nil
		}
	}
	return api.HealthProgressing, "waiting for CRD to be established", nil
}
