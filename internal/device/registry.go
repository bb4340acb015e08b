package device

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/thermostat"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides paired-device management with caching and thread safety.
// It wraps a Repository and keeps every device in memory after RefreshCache.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new device registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		r.cache[devices[i].ID] = devices[i].DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = d.DeepCopy()
	r.cacheMu.Unlock()
	return d, nil
}

// GetDeviceBySlug retrieves a device by its URL-safe slug.
func (r *Registry) GetDeviceBySlug(_ context.Context, slug string) (*Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	for _, d := range r.cache {
		if d.Slug == slug {
			return d.DeepCopy(), nil
		}
	}
	return nil, ErrDeviceNotFound
}

// ListDevices returns all cached devices ordered by name, then ID.
func (r *Registry) ListDevices(_ context.Context) ([]Device, error) {
	return r.filter(func(*Device) bool { return true }), nil
}

// ListByAddress returns the devices paired on one controller address.
func (r *Registry) ListByAddress(_ context.Context, address string) ([]Device, error) {
	return r.filter(func(d *Device) bool { return d.Address == address }), nil
}

// ListByKind returns the devices driven by one driver kind.
func (r *Registry) ListByKind(_ context.Context, kind thermostat.Kind) ([]Device, error) {
	return r.filter(func(d *Device) bool { return d.Kind == kind }), nil
}

// FindThermostat returns the device pairing thermostatID on address.
func (r *Registry) FindThermostat(_ context.Context, address, thermostatID string) (*Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	for _, d := range r.cache {
		if d.Address == address && d.ThermostatID == thermostatID {
			return d.DeepCopy(), nil
		}
	}
	return nil, ErrDeviceNotFound
}

func (r *Registry) filter(keep func(*Device) bool) []Device {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		if keep(d) {
			devices = append(devices, *d.DeepCopy())
		}
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
	return devices
}

// CreateDevice pairs a new device. ID and slug are generated when empty.
func (r *Registry) CreateDevice(ctx context.Context, d *Device) error {
	if d.ID == "" {
		d.ID = GenerateID()
	}
	d.Name = strings.TrimSpace(d.Name)
	if d.Slug == "" {
		d.Slug = GenerateSlug(d.Name)
	}
	if d.HealthStatus == "" {
		d.HealthStatus = HealthStatusUnknown
	}
	if err := ValidateDevice(d); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", d.ID, "name", d.Name, "address", d.Address)
	return nil
}

// UpdateDevice persists name, slug and settings of an existing device.
// The slug follows the name unless it was changed explicitly.
func (r *Registry) UpdateDevice(ctx context.Context, d *Device) error {
	existing, err := r.GetDevice(ctx, d.ID)
	if err != nil {
		return err
	}
	d.Name = strings.TrimSpace(d.Name)
	if d.Name != existing.Name && d.Slug == existing.Slug {
		d.Slug = GenerateSlug(d.Name)
	}

	// Identity and runtime fields are not editable.
	d.Kind = existing.Kind
	d.Address = existing.Address
	d.ThermostatID = existing.ThermostatID
	d.State = existing.State
	d.StateUpdatedAt = existing.StateUpdatedAt
	d.HealthStatus = existing.HealthStatus
	d.HealthReason = existing.HealthReason
	d.HealthLastSeen = existing.HealthLastSeen
	d.CreatedAt = existing.CreatedAt

	if err := ValidateDevice(d); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device updated", "id", d.ID, "name", d.Name)
	return nil
}

// RenameDevice changes the display name, regenerating the slug.
func (r *Registry) RenameDevice(ctx context.Context, id, name string) (*Device, error) {
	d, err := r.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Name = name
	if err := r.UpdateDevice(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateSettings replaces the user-editable settings of a device and
// returns the updated device.
func (r *Registry) UpdateSettings(ctx context.Context, id string, settings Settings) (*Device, error) {
	settings.Host = strings.TrimSpace(settings.Host)
	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	d, err := r.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Settings = settings
	if err := r.UpdateDevice(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// SetDeviceState merges capability values into the stored state.
// Called for every published capability change.
func (r *Registry) SetDeviceState(ctx context.Context, id string, state State) error {
	if err := r.repo.UpdateState(ctx, id, state); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		if updated.State == nil {
			updated.State = State{}
		}
		for k, v := range state {
			updated.State[k] = deepCopyValue(v)
		}
		now := time.Now().UTC()
		updated.StateUpdatedAt = &now
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device state updated", "id", id)
	return nil
}

// SetDeviceHealth records availability. reason is the message shown while
// the device is unavailable and is cleared otherwise.
func (r *Registry) SetDeviceHealth(ctx context.Context, id string, status HealthStatus, reason string) error {
	if err := ValidateHealthStatus(status); err != nil {
		return err
	}
	if status != HealthStatusUnavailable {
		reason = ""
	}
	now := time.Now().UTC()
	if err := r.repo.UpdateHealth(ctx, id, status, reason, now); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.HealthStatus = status
		updated.HealthReason = reason
		updated.HealthLastSeen = &now
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device health updated", "id", id, "status", status)
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices   int                     `json:"total_devices"`
	ByKind         map[thermostat.Kind]int `json:"by_kind"`
	ByHealthStatus map[HealthStatus]int    `json:"by_health_status"`
	Controllers    int                     `json:"controllers"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices:   len(r.cache),
		ByKind:         make(map[thermostat.Kind]int),
		ByHealthStatus: make(map[HealthStatus]int),
	}
	controllers := make(map[string]struct{})
	for _, d := range r.cache {
		stats.ByKind[d.Kind]++
		stats.ByHealthStatus[d.HealthStatus]++
		controllers[d.Address] = struct{}{}
	}
	stats.Controllers = len(controllers)
	return stats
}
