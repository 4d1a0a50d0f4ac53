// Package source fetches the desired state of applications.
//
// Three Fetcher implementations exist. DirSource reads a plain directory and
// derives its revision from the file contents. GitSource resolves a branch,
// tag or commit with go-git and reads the manifests straight from the commit
// tree. MultiSource picks one of the two from the shape of the RepoURL.
//
// Manifests are split into YAML documents, converted to JSON and decoded into
// unstructured objects. Malformed documents are collected into a single
// InvalidManifest SourceError while the valid documents are still returned,
// so callers can report every problem at once.
//
// Watcher complements DirSource with fsnotify based change notifications.
package source
