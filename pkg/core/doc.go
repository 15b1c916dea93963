// Package core defines the shared domain types for GeoQuery: the request and
// workflow state threaded through the engine, cache and pattern entries, the
// error taxonomy, and the collaborator interfaces the engine depends on.
//
// Packages under internal/ import core; core imports nothing from internal/.
package core
