package permissions

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/doorstep-crm/doorstep/pkg/observability"
)

// CatalogFeature is one capability as declared in the catalog file
type CatalogFeature struct {
	Key          string `yaml:"key"`
	Label        string `yaml:"label"`
	DefaultRoles []Role `yaml:"default_roles"`
}

// CatalogCategory groups features for presentation
type CatalogCategory struct {
	Name     string           `yaml:"name"`
	Features []CatalogFeature `yaml:"features"`
}

type catalogFile struct {
	Categories []CatalogCategory `yaml:"categories"`
}

// Catalog is the static feature list, owned by configuration. It is
// loaded from YAML, optionally watched for changes, and synced into the
// capabilities table so the resolver reads a consistent view.
type Catalog struct {
	mu         sync.RWMutex
	categories []CatalogCategory
}

// LoadCatalog reads the catalog from a YAML file. A missing file yields
// the built-in default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Reload(path); err != nil {
		if os.IsNotExist(err) {
			c.categories = defaultCategories()
			return c, nil
		}
		return nil, err
	}
	return c, nil
}

// Reload re-reads the catalog file, replacing the in-memory view
func (c *Catalog) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(file.Categories) == 0 {
		return fmt.Errorf("catalog has no categories")
	}

	c.mu.Lock()
	c.categories = file.Categories
	c.mu.Unlock()
	return nil
}

// Categories returns the catalog grouped for presentation
func (c *Catalog) Categories() []CatalogCategory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CatalogCategory, len(c.categories))
	copy(out, c.categories)
	return out
}

// Capabilities flattens the catalog into capability records
func (c *Catalog) Capabilities() []Capability {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var capabilities []Capability
	for _, cat := range c.categories {
		for _, f := range cat.Features {
			capabilities = append(capabilities, Capability{
				Key:      f.Key,
				Category: cat.Name,
				Label:    f.Label,
				IsActive: true,
			})
		}
	}
	return capabilities
}

// DefaultGrants returns the seed role-grant policy for a new organization.
// Every (role, capability) pair gets a row; enabled reflects whether the
// role appears in the feature's default_roles. Super admin needs no rows.
func (c *Catalog) DefaultGrants(orgID int64) []RoleGrant {
	c.mu.RLock()
	defer c.mu.RUnlock()

	roles := []Role{RoleManager, RoleEmployee}
	var grants []RoleGrant
	for _, cat := range c.categories {
		for _, f := range cat.Features {
			for _, role := range roles {
				enabled := false
				for _, dr := range f.DefaultRoles {
					if dr == role {
						enabled = true
						break
					}
				}
				grants = append(grants, RoleGrant{
					OrganizationID: orgID,
					Role:           role,
					CapabilityKey:  f.Key,
					Enabled:        enabled,
				})
			}
		}
	}
	return grants
}

// Sync upserts the catalog into the capabilities table and soft-retires
// entries no longer present.
func (c *Catalog) Sync(ctx context.Context, store *Store) error {
	capabilities := c.Capabilities()
	keys := make([]string, 0, len(capabilities))
	for _, capability := range capabilities {
		if err := store.UpsertCapability(ctx, capability); err != nil {
			return err
		}
		keys = append(keys, capability.Key)
	}
	return store.RetireMissingCapabilities(ctx, keys)
}

// Watch reloads and re-syncs the catalog whenever the file changes.
// Blocks until ctx is done; run it in its own goroutine.
func (c *Catalog) Watch(ctx context.Context, path string, store *Store, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch catalog file: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := c.Reload(path); err != nil {
				logger.WithError(err).Error("Catalog reload failed, keeping previous catalog")
				continue
			}
			if err := c.Sync(ctx, store); err != nil {
				logger.WithError(err).Error("Catalog sync failed")
				continue
			}
			logger.Info("Feature catalog reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Error("Catalog watcher error")
		}
	}
}

func defaultCategories() []CatalogCategory {
	return []CatalogCategory{
		{
			Name: "leads",
			Features: []CatalogFeature{
				{Key: CapViewLeads, Label: "View leads", DefaultRoles: []Role{RoleManager, RoleEmployee}},
				{Key: CapEditLeads, Label: "Edit leads", DefaultRoles: []Role{RoleManager, RoleEmployee}},
				{Key: CapDeleteLeads, Label: "Delete leads", DefaultRoles: []Role{RoleManager}},
				{Key: CapAssignLeads, Label: "Assign leads", DefaultRoles: []Role{RoleManager}},
			},
		},
		{
			Name: "pipeline",
			Features: []CatalogFeature{
				{Key: CapViewPipeline, Label: "View pipeline", DefaultRoles: []Role{RoleManager, RoleEmployee}},
				{Key: CapMoveDeals, Label: "Move deals between stages", DefaultRoles: []Role{RoleManager, RoleEmployee}},
				{Key: CapEditDealValue, Label: "Edit deal value", DefaultRoles: []Role{RoleManager}},
			},
		},
		{
			Name: "campaigns",
			Features: []CatalogFeature{
				{Key: CapManageCampaigns, Label: "Manage campaigns", DefaultRoles: []Role{RoleManager}},
				{Key: CapStartCalls, Label: "Start outbound calls", DefaultRoles: []Role{RoleManager, RoleEmployee}},
				{Key: CapViewRecordings, Label: "Listen to call recordings", DefaultRoles: []Role{RoleManager}},
			},
		},
		{
			Name: "billing",
			Features: []CatalogFeature{
				{Key: CapViewBilling, Label: "View billing", DefaultRoles: []Role{RoleManager}},
				{Key: CapManageBilling, Label: "Manage billing", DefaultRoles: nil},
			},
		},
		{
			Name: "administration",
			Features: []CatalogFeature{
				{Key: CapManageMembers, Label: "Manage members", DefaultRoles: []Role{RoleManager}},
				{Key: CapManagePermissions, Label: "Manage permissions", DefaultRoles: []Role{RoleManager}},
				{Key: CapExportData, Label: "Export data", DefaultRoles: []Role{RoleManager}},
			},
		},
	}
}
