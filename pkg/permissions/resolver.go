package permissions

import (
	"context"
	"fmt"
	"time"

	"github.com/doorstep-crm/doorstep/pkg/observability"
)

// Resolver computes effective capability sets and answers point queries.
// It is stateless: every call goes to the repository, and read-your-writes
// consistency is expected from the store rather than from this layer.
type Resolver struct {
	repo      Repository
	trusted   TrustedRepository
	directory PrincipalDirectory
	metrics   *observability.Metrics // optional
}

// NewResolver creates a resolver. The trusted repository is used only by
// SetUserOverrides; handlers should be given the resolver, never the
// trusted repository itself.
func NewResolver(repo Repository, trusted TrustedRepository, directory PrincipalDirectory, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		repo:      repo,
		trusted:   trusted,
		directory: directory,
		metrics:   metrics,
	}
}

// GetEffectivePermissions computes the principal's effective capability set.
//
// Platform operators and super admins resolve to every active capability.
// Otherwise the set is U ∪ (R \ O) restricted to active keys, where U is
// the user's enabled overrides, R the enabled role grants, and O the keys
// with any override row at all: a disabling override must mask the role
// default without itself granting anything.
func (r *Resolver) GetEffectivePermissions(ctx context.Context, principal Principal) (CapabilitySet, error) {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.PermissionResolveDuration.Observe(time.Since(start).Seconds())
		}
	}()

	capabilities, err := r.repo.ListActiveCapabilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list capabilities: %w", err)
	}
	active := make(CapabilitySet, len(capabilities))
	for _, c := range capabilities {
		active[c.Key] = struct{}{}
	}

	if principal.IsPlatformOperator || principal.Role == RoleSuperAdmin {
		return active, nil
	}

	overrides, err := r.repo.ListUserOverrides(ctx, principal.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user overrides: %w", err)
	}

	grants, err := r.repo.ListRoleGrants(ctx, principal.OrganizationID, principal.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to list role grants: %w", err)
	}

	effective := make(CapabilitySet)
	overridden := make(map[string]struct{}, len(overrides))
	for _, o := range overrides {
		overridden[o.CapabilityKey] = struct{}{}
		if o.Enabled && active.Has(o.CapabilityKey) {
			effective[o.CapabilityKey] = struct{}{}
		}
	}
	for _, g := range grants {
		if !g.Enabled {
			continue
		}
		if _, masked := overridden[g.CapabilityKey]; masked {
			continue
		}
		if active.Has(g.CapabilityKey) {
			effective[g.CapabilityKey] = struct{}{}
		}
	}

	return effective, nil
}

// HasCapability reports whether the principal holds a single capability.
//
// Implemented as a point lookup rather than materializing the full set;
// the two must agree for all inputs. Unknown or retired keys and unknown
// principals fail closed with (false, nil). Only transport-level failures
// return an error, and callers should treat those as deny.
func (r *Resolver) HasCapability(ctx context.Context, principal Principal, key string) (bool, error) {
	allowed, err := r.hasCapability(ctx, principal, key)
	if r.metrics != nil && err == nil {
		outcome := "denied"
		if allowed {
			outcome = "allowed"
		}
		r.metrics.PermissionChecksTotal.WithLabelValues(key, outcome).Inc()
	}
	return allowed, err
}

func (r *Resolver) hasCapability(ctx context.Context, principal Principal, key string) (bool, error) {
	capabilities, err := r.repo.ListActiveCapabilities(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list capabilities: %w", err)
	}
	activeKey := false
	for _, c := range capabilities {
		if c.Key == key {
			activeKey = true
			break
		}
	}
	if !activeKey {
		return false, nil
	}

	if principal.IsPlatformOperator || principal.Role == RoleSuperAdmin {
		return true, nil
	}

	overrides, err := r.repo.ListUserOverrides(ctx, principal.UserID)
	if err != nil {
		return false, fmt.Errorf("failed to list user overrides: %w", err)
	}
	for _, o := range overrides {
		if o.CapabilityKey == key {
			// Any override row settles the question, enabled or not.
			return o.Enabled, nil
		}
	}

	grants, err := r.repo.ListRoleGrants(ctx, principal.OrganizationID, principal.Role)
	if err != nil {
		return false, fmt.Errorf("failed to list role grants: %w", err)
	}
	for _, g := range grants {
		if g.CapabilityKey == key {
			return g.Enabled, nil
		}
	}

	return false, nil
}

// SetUserOverridesResult reports the outcome of an override save
type SetUserOverridesResult struct {
	// OverrideCount is the number of rows newly written by this call:
	// the size of the true diff, not the total override count. A repeat
	// call with the same desired set reports zero.
	OverrideCount int `json:"overrideCount"`
}

// SetUserOverrides replaces the target user's override rows so that the
// target's effective set becomes desiredKeys (restricted to active
// capabilities).
//
// The admin must hold manage_permissions — checked through this same
// resolver, so the permission system gates changes to itself through
// ordinary data. The target must be in the admin's organization unless
// the admin is a platform operator, and must not hold the super-admin
// role. Violations return ErrForbidden wrapped with context; a caller
// lacking manage_permissions returns ErrPermissionDenied.
//
// Only keys whose desired state differs from the role default are
// persisted, keeping the override table sparse. The delete+insert pair
// runs in one transaction inside the trusted repository.
func (r *Resolver) SetUserOverrides(ctx context.Context, admin Principal, targetUserID int64, desiredKeys CapabilitySet) (*SetUserOverridesResult, error) {
	allowed, err := r.HasCapability(ctx, admin, CapManagePermissions)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s required", ErrPermissionDenied, CapManagePermissions)
	}

	target, err := r.directory.LookupPrincipal(ctx, targetUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up target user: %w", err)
	}
	if target == nil {
		return nil, fmt.Errorf("%w: unknown target user", ErrForbidden)
	}
	if target.OrganizationID != admin.OrganizationID && !admin.IsPlatformOperator {
		return nil, fmt.Errorf("%w: target user belongs to another organization", ErrForbidden)
	}
	if target.Role == RoleSuperAdmin {
		return nil, fmt.Errorf("%w: super admin permissions are not overridable", ErrForbidden)
	}

	capabilities, err := r.repo.ListActiveCapabilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list capabilities: %w", err)
	}
	active := make(CapabilitySet, len(capabilities))
	for _, c := range capabilities {
		active[c.Key] = struct{}{}
	}

	grants, err := r.repo.ListRoleGrants(ctx, target.OrganizationID, target.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to list role grants: %w", err)
	}
	roleSet := make(CapabilitySet)
	for _, g := range grants {
		if g.Enabled {
			roleSet[g.CapabilityKey] = struct{}{}
		}
	}

	// Sparse diff against the role default: enable rows for desired keys
	// the role lacks, disable rows for role-granted keys not desired.
	now := time.Now()
	rows := make([]UserOverride, 0)
	for key := range desiredKeys {
		if !active.Has(key) {
			continue
		}
		if !roleSet.Has(key) {
			rows = append(rows, UserOverride{
				OrganizationID: target.OrganizationID,
				UserID:         targetUserID,
				CapabilityKey:  key,
				Enabled:        true,
				GrantedBy:      admin.UserID,
				GrantedAt:      now,
			})
		}
	}
	for key := range roleSet {
		if !desiredKeys.Has(key) {
			rows = append(rows, UserOverride{
				OrganizationID: target.OrganizationID,
				UserID:         targetUserID,
				CapabilityKey:  key,
				Enabled:        false,
				GrantedBy:      admin.UserID,
				GrantedAt:      now,
			})
		}
	}

	// overrideCount is the newly written diff relative to the rows
	// already in place, so an idempotent repeat reports zero.
	existing, err := r.repo.ListUserOverrides(ctx, targetUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user overrides: %w", err)
	}
	existingState := make(map[string]bool, len(existing))
	for _, o := range existing {
		existingState[o.CapabilityKey] = o.Enabled
	}
	newlyWritten := 0
	for _, row := range rows {
		if enabled, ok := existingState[row.CapabilityKey]; !ok || enabled != row.Enabled {
			newlyWritten++
		}
	}

	if err := r.trusted.ReplaceUserOverrides(ctx, targetUserID, rows); err != nil {
		return nil, fmt.Errorf("failed to replace user overrides: %w", err)
	}

	if r.metrics != nil && newlyWritten > 0 {
		r.metrics.OverrideWritesTotal.Add(float64(newlyWritten))
	}

	return &SetUserOverridesResult{OverrideCount: newlyWritten}, nil
}
