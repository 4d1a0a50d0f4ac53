package diff

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"

	"gitsync/internal/resource"
)

// projection is the normalized, comparable view of one resource. Each kind
// family has its own concrete type; values of different types never compare
// equal.
type projection interface {
	family() string
}

type metaProjection struct {
	Labels      map[string]string
	Annotations map[string]string
}

type namespaceProjection struct {
	Meta metaProjection
}

type configMapProjection struct {
	Meta       metaProjection
	Data       map[string]string
	BinaryData map[string]string
	Immutable  bool
}

// secretProjection holds digests of the values, never the values themselves.
type secretProjection struct {
	Meta      metaProjection
	Type      string
	Data      map[string]string
	Immutable bool
}

type envProjection struct {
	Name      string
	Value     string
	ValueFrom string
}

type portProjection struct {
	Name          string
	ContainerPort int32
	Protocol      string
}

type mountProjection struct {
	Name      string
	MountPath string
	SubPath   string
	ReadOnly  bool
}

type containerProjection struct {
	Name            string
	Image           string
	ImagePullPolicy string
	Command         []string
	Args            []string
	Env             []envProjection
	EnvFrom         []string
	Ports           []portProjection
	Resources       map[string]string
	VolumeMounts    []mountProjection
}

type volumeProjection struct {
	Name   string
	Source string
}

type podProjection struct {
	Meta               metaProjection
	ServiceAccountName string
	NodeSelector       map[string]string
	ImagePullSecrets   []string
	InitContainers     []containerProjection
	Containers         []containerProjection
	Volumes            []volumeProjection
}

type workloadProjection struct {
	Kind                 string
	Meta                 metaProjection
	Replicas             *int32
	Selector             string
	Template             podProjection
	ServiceName          string
	VolumeClaimTemplates []string
}

type servicePortProjection struct {
	Name       string
	Protocol   string
	Port       int32
	TargetPort string
}

type serviceProjection struct {
	Meta         metaProjection
	Type         string
	ClusterIP    string
	ExternalName string
	Selector     map[string]string
	Ports        []servicePortProjection
}

type ingressPathProjection struct {
	Path     string
	PathType string
	Backend  string
}

type ingressRuleProjection struct {
	Host  string
	Paths []ingressPathProjection
}

type ingressTLSProjection struct {
	Hosts      []string
	SecretName string
}

type ingressProjection struct {
	Meta             metaProjection
	IngressClassName string
	DefaultBackend   string
	Rules            []ingressRuleProjection
	TLS              []ingressTLSProjection
}

// genericProjection compares the fields named by the desired payload. For
// the live side Fields is already restricted to that subset.
type genericProjection struct {
	Meta   metaProjection
	Fields map[string]interface{}
}

func (namespaceProjection) family() string { return "Namespace" }
func (configMapProjection) family() string { return "ConfigMap" }
func (secretProjection) family() string    { return "Secret" }
func (workloadProjection) family() string  { return "Workload" }
func (serviceProjection) family() string   { return "Service" }
func (ingressProjection) family() string   { return "Ingress" }
func (genericProjection) family() string   { return "Generic" }

// project builds the projections of a desired and a live object of the same
// key. Typed projections fall back to the generic one when an object cannot
// be converted.
func project(desired, live *unstructured.Unstructured) (projection, projection) {
	d := resource.Strip(desired)
	l := resource.Strip(live)
	restrictMeta(d, l, "metadata")
	restrictMeta(d, l, "spec", "template", "metadata")

	var dp, lp projection
	var derr, lerr error
	switch desired.GetKind() {
	case "Namespace":
		dp, lp = projectNamespace(d), projectNamespace(l)
	case "ConfigMap":
		dp, derr = projectConfigMap(d)
		lp, lerr = projectConfigMap(l)
	case "Secret":
		// Never fall back to the generic projection, it would expose values.
		return projectSecret(d), projectSecret(l)
	case "Deployment", "StatefulSet", "DaemonSet":
		dp, derr = projectWorkload(d)
		lp, lerr = projectWorkload(l)
	case "Service":
		dp, derr = projectService(d)
		lp, lerr = projectService(l)
	case "Ingress":
		dp, derr = projectIngress(d)
		lp, lerr = projectIngress(l)
	default:
		return projectGeneric(d, l)
	}
	if derr != nil || lerr != nil {
		return projectGeneric(d, l)
	}
	return dp, lp
}

// restrictMeta drops the labels and annotations at path of live whose keys
// desired does not set. Controllers and admission plugins add their own
// keys; only the ones the manifest owns are compared.
func restrictMeta(desired, live *unstructured.Unstructured, path ...string) {
	if _, found, _ := unstructured.NestedMap(live.Object, path...); !found {
		return
	}
	for _, field := range []string{"labels", "annotations"} {
		fieldPath := append(append([]string(nil), path...), field)
		have, found, _ := unstructured.NestedStringMap(live.Object, fieldPath...)
		if !found {
			continue
		}
		want, _, _ := unstructured.NestedStringMap(desired.Object, fieldPath...)
		kept := make(map[string]interface{}, len(want))
		for k, v := range have {
			if _, ok := want[k]; ok {
				kept[k] = v
			}
		}
		if len(kept) == 0 {
			unstructured.RemoveNestedField(live.Object, fieldPath...)
			continue
		}
		_ = unstructured.SetNestedMap(live.Object, kept, fieldPath...)
	}
}

func projectMeta(obj *unstructured.Unstructured) metaProjection {
	return metaProjection{Labels: obj.GetLabels(), Annotations: obj.GetAnnotations()}
}

func fromUnstructured(obj *unstructured.Unstructured, into interface{}) error {
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, into); err != nil {
		return fmt.Errorf("failed to convert %s %s: %w", obj.GetKind(), obj.GetName(), err)
	}
	return nil
}

func projectNamespace(obj *unstructured.Unstructured) projection {
	return namespaceProjection{Meta: projectMeta(obj)}
}

func projectConfigMap(obj *unstructured.Unstructured) (projection, error) {
	var cm corev1.ConfigMap
	if err := fromUnstructured(obj, &cm); err != nil {
		return nil, err
	}
	p := configMapProjection{Meta: projectMeta(obj), Data: cm.Data}
	if len(cm.BinaryData) > 0 {
		p.BinaryData = make(map[string]string, len(cm.BinaryData))
		for k, v := range cm.BinaryData {
			p.BinaryData[k] = base64.StdEncoding.EncodeToString(v)
		}
	}
	p.Immutable = cm.Immutable != nil && *cm.Immutable
	return p, nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:8])
}

func projectSecret(obj *unstructured.Unstructured) projection {
	var s corev1.Secret
	if err := fromUnstructured(obj, &s); err != nil {
		return rawSecretProjection(obj)
	}
	p := secretProjection{Meta: projectMeta(obj), Type: string(s.Type)}
	if p.Type == "" {
		p.Type = string(corev1.SecretTypeOpaque)
	}
	if n := len(s.Data) + len(s.StringData); n > 0 {
		p.Data = make(map[string]string, n)
		for k, v := range s.Data {
			p.Data[k] = digest(v)
		}
		for k, v := range s.StringData {
			p.Data[k] = digest([]byte(v))
		}
	}
	p.Immutable = s.Immutable != nil && *s.Immutable
	return p
}

// rawSecretProjection digests the encoded values of a secret that does not
// decode, for example because a data value is not valid base64.
func rawSecretProjection(obj *unstructured.Unstructured) projection {
	p := secretProjection{Meta: projectMeta(obj), Data: map[string]string{}}
	p.Type, _, _ = unstructured.NestedString(obj.Object, "type")
	if p.Type == "" {
		p.Type = string(corev1.SecretTypeOpaque)
	}
	for _, field := range []string{"data", "stringData"} {
		values, _, _ := unstructured.NestedMap(obj.Object, field)
		for k, v := range values {
			p.Data[k] = digest([]byte(fmt.Sprint(v)))
		}
	}
	p.Immutable, _, _ = unstructured.NestedBool(obj.Object, "immutable")
	return p
}

func projectWorkload(obj *unstructured.Unstructured) (projection, error) {
	p := workloadProjection{Kind: obj.GetKind(), Meta: projectMeta(obj)}
	var (
		selector *metav1.LabelSelector
		template corev1.PodTemplateSpec
	)
	switch obj.GetKind() {
	case "Deployment":
		var d appsv1.Deployment
		if err := fromUnstructured(obj, &d); err != nil {
			return nil, err
		}
		p.Replicas = replicasOrDefault(d.Spec.Replicas)
		selector, template = d.Spec.Selector, d.Spec.Template
	case "StatefulSet":
		var s appsv1.StatefulSet
		if err := fromUnstructured(obj, &s); err != nil {
			return nil, err
		}
		p.Replicas = replicasOrDefault(s.Spec.Replicas)
		selector, template = s.Spec.Selector, s.Spec.Template
		p.ServiceName = s.Spec.ServiceName
		for _, pvc := range s.Spec.VolumeClaimTemplates {
			p.VolumeClaimTemplates = append(p.VolumeClaimTemplates, claimTemplate(pvc))
		}
	case "DaemonSet":
		var d appsv1.DaemonSet
		if err := fromUnstructured(obj, &d); err != nil {
			return nil, err
		}
		selector, template = d.Spec.Selector, d.Spec.Template
	}
	if selector != nil {
		p.Selector = metav1.FormatLabelSelector(selector)
	}
	p.Template = projectPod(template)
	return p, nil
}

func replicasOrDefault(r *int32) *int32 {
	if r != nil {
		return r
	}
	one := int32(1)
	return &one
}

func claimTemplate(pvc corev1.PersistentVolumeClaim) string {
	var b strings.Builder
	b.WriteString(pvc.Name)
	modes := make([]string, len(pvc.Spec.AccessModes))
	for i, m := range pvc.Spec.AccessModes {
		modes[i] = string(m)
	}
	fmt.Fprintf(&b, " modes=%s", strings.Join(modes, ","))
	if q, ok := pvc.Spec.Resources.Requests[corev1.ResourceStorage]; ok {
		fmt.Fprintf(&b, " storage=%s", q.String())
	}
	if pvc.Spec.StorageClassName != nil {
		fmt.Fprintf(&b, " class=%s", *pvc.Spec.StorageClassName)
	}
	return b.String()
}

func projectPod(t corev1.PodTemplateSpec) podProjection {
	p := podProjection{
		Meta:               metaProjection{Labels: t.Labels, Annotations: t.Annotations},
		ServiceAccountName: t.Spec.ServiceAccountName,
		NodeSelector:       t.Spec.NodeSelector,
	}
	for _, s := range t.Spec.ImagePullSecrets {
		p.ImagePullSecrets = append(p.ImagePullSecrets, s.Name)
	}
	for _, c := range t.Spec.InitContainers {
		p.InitContainers = append(p.InitContainers, projectContainer(c))
	}
	for _, c := range t.Spec.Containers {
		p.Containers = append(p.Containers, projectContainer(c))
	}
	for _, v := range t.Spec.Volumes {
		p.Volumes = append(p.Volumes, volumeProjection{Name: v.Name, Source: volumeSource(v.VolumeSource)})
	}
	return p
}

func projectContainer(c corev1.Container) containerProjection {
	p := containerProjection{
		Name:            c.Name,
		Image:           c.Image,
		ImagePullPolicy: string(c.ImagePullPolicy),
		Command:         c.Command,
		Args:            c.Args,
	}
	if p.ImagePullPolicy == "" {
		p.ImagePullPolicy = string(defaultPullPolicy(c.Image))
	}
	for _, e := range c.Env {
		p.Env = append(p.Env, envProjection{Name: e.Name, Value: e.Value, ValueFrom: envSource(e.ValueFrom)})
	}
	for _, e := range c.EnvFrom {
		switch {
		case e.ConfigMapRef != nil:
			p.EnvFrom = append(p.EnvFrom, e.Prefix+"configMap:"+e.ConfigMapRef.Name)
		case e.SecretRef != nil:
			p.EnvFrom = append(p.EnvFrom, e.Prefix+"secret:"+e.SecretRef.Name)
		}
	}
	for _, port := range c.Ports {
		proto := string(port.Protocol)
		if proto == "" {
			proto = string(corev1.ProtocolTCP)
		}
		p.Ports = append(p.Ports, portProjection{Name: port.Name, ContainerPort: port.ContainerPort, Protocol: proto})
	}
	if len(c.Resources.Limits)+len(c.Resources.Requests) > 0 {
		p.Resources = make(map[string]string)
		for name, q := range c.Resources.Limits {
			p.Resources["limits."+string(name)] = q.String()
		}
		for name, q := range c.Resources.Requests {
			p.Resources["requests."+string(name)] = q.String()
		}
	}
	for _, m := range c.VolumeMounts {
		p.VolumeMounts = append(p.VolumeMounts, mountProjection{Name: m.Name, MountPath: m.MountPath, SubPath: m.SubPath, ReadOnly: m.ReadOnly})
	}
	return p
}

// defaultPullPolicy mirrors the API server default: Always for latest or
// untagged images, IfNotPresent otherwise.
func defaultPullPolicy(image string) corev1.PullPolicy {
	if strings.Contains(image, "@") {
		return corev1.PullIfNotPresent
	}
	name := image
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	i := strings.LastIndex(name, ":")
	if i < 0 || name[i+1:] == "latest" {
		return corev1.PullAlways
	}
	return corev1.PullIfNotPresent
}

func envSource(src *corev1.EnvVarSource) string {
	switch {
	case src == nil:
		return ""
	case src.ConfigMapKeyRef != nil:
		return "configMap:" + src.ConfigMapKeyRef.Name + "/" + src.ConfigMapKeyRef.Key
	case src.SecretKeyRef != nil:
		return "secret:" + src.SecretKeyRef.Name + "/" + src.SecretKeyRef.Key
	case src.FieldRef != nil:
		return "field:" + src.FieldRef.FieldPath
	case src.ResourceFieldRef != nil:
		return "resource:" + src.ResourceFieldRef.ContainerName + "/" + src.ResourceFieldRef.Resource
	default:
		return "other"
	}
}

func volumeSource(v corev1.VolumeSource) string {
	switch {
	case v.ConfigMap != nil:
		return "configMap:" + v.ConfigMap.Name
	case v.Secret != nil:
		return "secret:" + v.Secret.SecretName
	case v.PersistentVolumeClaim != nil:
		return "pvc:" + v.PersistentVolumeClaim.ClaimName
	case v.EmptyDir != nil:
		return "emptyDir"
	case v.HostPath != nil:
		return "hostPath:" + v.HostPath.Path
	case v.Projected != nil:
		var parts []string
		for _, s := range v.Projected.Sources {
			switch {
			case s.ConfigMap != nil:
				parts = append(parts, "configMap:"+s.ConfigMap.Name)
			case s.Secret != nil:
				parts = append(parts, "secret:"+s.Secret.Name)
			case s.ServiceAccountToken != nil:
				parts = append(parts, "token")
			}
		}
		return "projected:" + strings.Join(parts, ",")
	default:
		return "other"
	}
}

func projectService(obj *unstructured.Unstructured) (projection, error) {
	var svc corev1.Service
	if err := fromUnstructured(obj, &svc); err != nil {
		return nil, err
	}
	p := serviceProjection{
		Meta:         projectMeta(obj),
		Type:         string(svc.Spec.Type),
		ExternalName: svc.Spec.ExternalName,
		Selector:     svc.Spec.Selector,
	}
	if p.Type == "" {
		p.Type = string(corev1.ServiceTypeClusterIP)
	}
	// Allocated cluster IPs are not compared, only headless services.
	if svc.Spec.ClusterIP == corev1.ClusterIPNone {
		p.ClusterIP = corev1.ClusterIPNone
	}
	for _, port := range svc.Spec.Ports {
		sp := servicePortProjection{
			Name:       port.Name,
			Protocol:   string(port.Protocol),
			Port:       port.Port,
			TargetPort: port.TargetPort.String(),
		}
		if sp.Protocol == "" {
			sp.Protocol = string(corev1.ProtocolTCP)
		}
		if port.TargetPort.Type == intstr.Int && port.TargetPort.IntVal == 0 {
			sp.TargetPort = fmt.Sprint(port.Port)
		}
		p.Ports = append(p.Ports, sp)
	}
	return p, nil
}

func ingressBackend(b *networkingv1.IngressBackend) string {
	switch {
	case b == nil:
		return ""
	case b.Service != nil:
		if b.Service.Port.Name != "" {
			return b.Service.Name + ":" + b.Service.Port.Name
		}
		return fmt.Sprintf("%s:%d", b.Service.Name, b.Service.Port.Number)
	case b.Resource != nil:
		return b.Resource.Kind + "/" + b.Resource.Name
	default:
		return ""
	}
}

func projectIngress(obj *unstructured.Unstructured) (projection, error) {
	var ing networkingv1.Ingress
	if err := fromUnstructured(obj, &ing); err != nil {
		return nil, err
	}
	p := ingressProjection{
		Meta:           projectMeta(obj),
		DefaultBackend: ingressBackend(ing.Spec.DefaultBackend),
	}
	if ing.Spec.IngressClassName != nil {
		p.IngressClassName = *ing.Spec.IngressClassName
	}
	for _, r := range ing.Spec.Rules {
		rule := ingressRuleProjection{Host: r.Host}
		if r.HTTP != nil {
			for _, path := range r.HTTP.Paths {
				pathType := string(networkingv1.PathTypeImplementationSpecific)
				if path.PathType != nil {
					pathType = string(*path.PathType)
				}
				b := path.Backend
				rule.Paths = append(rule.Paths, ingressPathProjection{Path: path.Path, PathType: pathType, Backend: ingressBackend(&b)})
			}
		}
		p.Rules = append(p.Rules, rule)
	}
	for _, tls := range ing.Spec.TLS {
		p.TLS = append(p.TLS, ingressTLSProjection{Hosts: tls.Hosts, SecretName: tls.SecretName})
	}
	return p, nil
}

func projectGeneric(desired, live *unstructured.Unstructured) (projection, projection) {
	dFields := payloadFields(desired.Object)
	lFields := payloadFields(live.Object)
	dp := genericProjection{Meta: projectMeta(desired), Fields: dFields}
	lp := genericProjection{Meta: projectMeta(live), Fields: subset(dFields, lFields).(map[string]interface{})}
	return dp, lp
}

func payloadFields(obj map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		switch k {
		case "apiVersion", "kind", "metadata", "status":
			continue
		}
		out[k] = v
	}
	return out
}

// subset returns the part of live that has a counterpart in desired. Maps
// are restricted to desired's keys; lists of equal length are restricted
// element-wise; anything else is returned as is.
func subset(desired, live interface{}) interface{} {
	switch d := desired.(type) {
	case map[string]interface{}:
		l, ok := live.(map[string]interface{})
		if !ok {
			if live == nil {
				return map[string]interface{}{}
			}
			return live
		}
		out := make(map[string]interface{}, len(d))
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if lv, found := l[k]; found {
				out[k] = subset(d[k], lv)
			}
		}
		return out
	case []interface{}:
		l, ok := live.([]interface{})
		if !ok || len(l) != len(d) {
			return live
		}
		out := make([]interface{}, len(l))
		for i := range l {
			out[i] = subset(d[i], l[i])
		}
		return out
	default:
		return live
	}
}
