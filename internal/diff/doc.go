// Package diff compares desired and live resources.
//
// Each matched pair is reduced to a per-kind projection that keeps only the
// fields gitsync owns, with API server defaults filled in, and the two
// projections are compared with go-cmp. Secret values are replaced by
// digests before they reach a projection, so diff text never contains them.
//
// Resources that can be updated in place carry a JSON merge patch built from
// the desired payload and the last applied configuration recorded on the
// live object. Changes to immutable fields mark the resource for replacement
// instead.
package diff
