package device

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Catalog provides device lookup with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations. Devices are immutable values, so
// cached entries are handed out directly without copying.
//
// All public methods are thread-safe.
type Catalog struct {
	repo    Repository
	cache   map[string]Device // Cached devices by ID
	cacheMu sync.RWMutex      // Protects cache
	logger  Logger
}

// NewCatalog creates a new device catalog.
// The repository is used for persistence; the catalog adds caching.
func NewCatalog(repo Repository) *Catalog {
	return &Catalog{
		repo:   repo,
		cache:  make(map[string]Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the catalog.
func (c *Catalog) SetLogger(logger Logger) {
	c.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (c *Catalog) RefreshCache(ctx context.Context) error {
	devices, err := c.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	c.cache = make(map[string]Device, len(devices))
	for _, d := range devices {
		c.cache[d.ID()] = d
	}

	c.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
func (c *Catalog) GetDevice(ctx context.Context, id string) (Device, error) {
	c.cacheMu.RLock()
	cached, ok := c.cache[id]
	c.cacheMu.RUnlock()

	if ok {
		return cached, nil
	}

	// Fall back to repository (might be a device added by another process)
	d, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return Device{}, err
	}

	c.cacheMu.Lock()
	c.cache[id] = d
	c.cacheMu.Unlock()

	return d, nil
}

// ListDevices retrieves all cached devices ordered by ID.
func (c *Catalog) ListDevices() []Device {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()

	devices := make([]Device, 0, len(c.cache))
	for _, d := range c.cache {
		devices = append(devices, d)
	}
	slices.SortFunc(devices, func(a, b Device) int { return cmp.Compare(a.ID(), b.ID()) })
	return devices
}

// GetDevicesByType retrieves all cached devices of one type ordered by ID.
func (c *Catalog) GetDevicesByType(t DeviceType) []Device {
	var devices []Device
	for _, d := range c.ListDevices() {
		if d.Type() == t {
			devices = append(devices, d)
		}
	}
	return devices
}

// CreateDevice persists a new device and caches it.
func (c *Catalog) CreateDevice(ctx context.Context, d Device) error {
	if err := c.repo.Create(ctx, d); err != nil {
		return err
	}

	c.cacheMu.Lock()
	c.cache[d.ID()] = d
	c.cacheMu.Unlock()

	c.logger.Info("device created", "device", d)
	return nil
}

// UpdateDevice persists new connection parameters or type for a device.
func (c *Catalog) UpdateDevice(ctx context.Context, d Device) error {
	if err := c.repo.Update(ctx, d); err != nil {
		return err
	}

	c.cacheMu.Lock()
	c.cache[d.ID()] = d
	c.cacheMu.Unlock()

	c.logger.Info("device updated", "device", d)
	return nil
}

// DeleteDevice removes a device.
func (c *Catalog) DeleteDevice(ctx context.Context, id string) error {
	if err := c.repo.Delete(ctx, id); err != nil {
		return err
	}

	c.cacheMu.Lock()
	delete(c.cache, id)
	c.cacheMu.Unlock()

	c.logger.Info("device deleted", "id", id)
	return nil
}

// Import creates or updates each device so the store matches an inventory.
// Devices already stored with identical fields are left untouched. Devices
// missing from the inventory are not removed.
func (c *Catalog) Import(ctx context.Context, devices []Device) (created, updated int, err error) {
	for _, d := range devices {
		existing, getErr := c.GetDevice(ctx, d.ID())
		switch {
		case errors.Is(getErr, ErrDeviceNotFound):
			if err := c.CreateDevice(ctx, d); err != nil {
				return created, updated, fmt.Errorf("importing %s: %w", d.ID(), err)
			}
			created++
		case getErr != nil:
			return created, updated, fmt.Errorf("importing %s: %w", d.ID(), getErr)
		case existing != d:
			if err := c.UpdateDevice(ctx, d); err != nil {
				return created, updated, fmt.Errorf("importing %s: %w", d.ID(), err)
			}
			updated++
		}
	}
	return created, updated, nil
}

// GetDeviceCount returns the number of cached devices.
func (c *Catalog) GetDeviceCount() int {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return len(c.cache)
}

// CatalogStats returns catalog statistics for monitoring.
type CatalogStats struct {
	TotalDevices int
	ByType       map[DeviceType]int
}

// GetStats returns current catalog statistics.
func (c *Catalog) GetStats() CatalogStats {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()

	stats := CatalogStats{
		TotalDevices: len(c.cache),
		ByType:       make(map[DeviceType]int),
	}
	for _, d := range c.cache {
		stats.ByType[d.Type()]++
	}
	return stats
}
