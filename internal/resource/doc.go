// Package resource defines desired and live resources, their keys and the
// static kind table that drives ordering tiers.
package resource
