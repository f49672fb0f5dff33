// Package permissions implements the effective permission resolver.
//
// A principal's effective capability set is computed by layering three
// sources of truth: per-organization role grants, per-user overrides,
// and the platform-operator bypass. An override row supersedes the role
// default for its key even when it disables the capability; role grants
// with no corresponding override row pass through unchanged. Platform
// operators and the organization super-admin role resolve to the full
// active capability set.
//
// The resolver is stateless and uncached; read-your-writes consistency
// comes from the underlying store. Administrative writes go through a
// separate TrustedRepository interface that request handlers never see.
package permissions
