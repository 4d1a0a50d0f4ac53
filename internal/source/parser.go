package source

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"

	"gitsync/internal/api"
	"gitsync/internal/resource"
)

// The YAML document separator is any line that starts with ---.
var documentSeparator = regexp.MustCompile(`\n---.*\n`)

// SplitDocuments returns every document of a multi-document YAML string.
// Comments may follow the separator on the same line; anything else is an
// error. A separator on the first line does not open an empty document.
func SplitDocuments(s string) ([]string, error) {
	docs := make([]string, 0)
	if len(s) == 0 {
		return docs, nil
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	if strings.HasPrefix(s, "---") {
		// Re-anchor so the leading separator is matched like any other.
		s = "\n" + s
	}

	prev, offset := 0, 0
	for {
		loc := documentSeparator.FindStringIndex(s[offset:])
		if loc == nil {
			break
		}
		start, end := offset+loc[0], offset+loc[1]
		separator := s[start:end]
		rest := strings.TrimSpace(separator[4:])
		if len(rest) > 0 && rest[0] != '#' {
			return nil, fmt.Errorf("invalid document separator: %s", strings.TrimSpace(separator))
		}
		if start > 0 {
			docs = append(docs, s[prev:start])
		}
		// The closing newline also opens the next separator line.
		prev, offset = end-1, end-1
	}
	docs = append(docs, s[prev:])
	return docs, nil
}

// manifestFile is one YAML file read from a source.
type manifestFile struct {
	path string
	data string
}

func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ParseManifests decodes every document of one file. Malformed documents are
// reported individually; the valid ones are still returned.
func ParseManifests(path, data, defaultNamespace string) ([]resource.Desired, []api.ManifestError) {
	docs, err := SplitDocuments(strings.ReplaceAll(data, "\r\n", "\n"))
	if err != nil {
		return nil, []api.ManifestError{{Path: path, Index: 0, Message: err.Error()}}
	}

	var (
		out     []resource.Desired
		errs    []api.ManifestError
		ordinal int
	)
	for i, doc := range docs {
		if isEmptyDocument(doc) {
			continue
		}
		objs, err := decodeDocument(doc)
		if err != nil {
			errs = append(errs, api.ManifestError{Path: path, Index: i, Message: err.Error()})
			continue
		}
		for _, obj := range objs {
			d, err := resource.NewDesired(obj, defaultNamespace, path, ordinal)
			if err != nil {
				errs = append(errs, api.ManifestError{Path: path, Index: i, Message: err.Error()})
				continue
			}
			out = append(out, d)
			ordinal++
		}
	}
	return out, errs
}

func isEmptyDocument(doc string) bool {
	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			return false
		}
	}
	return true
}

// decodeDocument converts one YAML document into objects, flattening List
// kinds into their items.
func decodeDocument(doc string) ([]*unstructured.Unstructured, error) {
	data, err := yaml.YAMLToJSON([]byte(doc))
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}

	obj := &unstructured.Unstructured{}
	if err := obj.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	if !obj.IsList() {
		return []*unstructured.Unstructured{obj}, nil
	}

	list, err := obj.ToList()
	if err != nil {
		return nil, err
	}
	out := make([]*unstructured.Unstructured, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, &list.Items[i])
	}
	return out, nil
}

// buildSnapshot parses files into a snapshot ordered by path and document
// index. Duplicate keys and malformed documents produce an InvalidManifest
// error carrying every problem; the snapshot still holds the valid resources.
func buildSnapshot(app api.Application, revision string, files []manifestFile) (*Snapshot, error) {
	snap := &Snapshot{Revision: revision}

	var problems []api.ManifestError
	seen := make(map[api.ResourceKey]resource.Desired)
	for _, f := range files {
		resources, errs := ParseManifests(f.path, f.data, app.Destination.Namespace)
		problems = append(problems, errs...)
		for _, r := range resources {
			if first, dup := seen[r.Key]; dup {
				problems = append(problems, api.ManifestError{
					Path:    r.SourcePath,
					Index:   r.Index,
					Message: fmt.Sprintf("duplicate resource %s, first declared in %s[%d]", r.Key, first.SourcePath, first.Index),
				})
				continue
			}
			seen[r.Key] = r
			snap.Resources = append(snap.Resources, r)
		}
	}
	resource.SortDesired(snap.Resources)

	if len(problems) > 0 {
		return snap, &api.SourceError{
			Reason:    api.InvalidManifest,
			RepoURL:   app.Source.RepoURL,
			Revision:  revision,
			Path:      app.Source.Path,
			Manifests: problems,
		}
	}
	return snap, nil
}
