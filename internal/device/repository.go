package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/thermostat"
)

// Repository defines the persistence operations for paired devices.
// The abstraction allows SQLite in production and mocks in tests.
type Repository interface {
	// GetByID returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List returns all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// ListByAddress returns the devices paired on one controller address.
	ListByAddress(ctx context.Context, address string) ([]Device, error)

	// Create returns ErrDeviceExists if the ID, or the thermostat on its
	// controller, is already stored.
	Create(ctx context.Context, device *Device) error

	// Update replaces name, slug and settings.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateState merges capability values into the stored state.
	UpdateState(ctx context.Context, id string, state State) error

	// UpdateHealth records availability and when it was last observed.
	UpdateHealth(ctx context.Context, id string, status HealthStatus, reason string, lastSeen time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
	SELECT id, name, slug, kind, address, thermostat_id, settings,
		state, state_updated_at, health_status, health_reason, health_last_seen,
		created_at, updated_at
	FROM devices`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, selectColumns+" ORDER BY name, id")
}

// ListByAddress retrieves the devices of one controller.
func (r *SQLiteRepository) ListByAddress(ctx context.Context, address string) ([]Device, error) {
	return r.queryDevices(ctx, selectColumns+" WHERE address = ? ORDER BY thermostat_id", address)
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	settingsJSON, err := json.Marshal(d.Settings)
	if err != nil {
		return fmt.Errorf("marshalling settings: %w", err)
	}
	state := d.State
	if state == nil {
		state = State{}
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}
	if d.HealthStatus == "" {
		d.HealthStatus = HealthStatusUnknown
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (
			id, name, slug, kind, address, thermostat_id, settings,
			state, state_updated_at, health_status, health_reason, health_last_seen,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.Name,
		d.Slug,
		string(d.Kind),
		d.Address,
		d.ThermostatID,
		string(settingsJSON),
		string(stateJSON),
		nullableTime(d.StateUpdatedAt),
		string(d.HealthStatus),
		nullableString(d.HealthReason),
		nullableTime(d.HealthLastSeen),
		d.CreatedAt.Format(time.RFC3339),
		d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies name, slug and settings of an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	settingsJSON, err := json.Marshal(d.Settings)
	if err != nil {
		return fmt.Errorf("marshalling settings: %w", err)
	}
	d.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET name = ?, slug = ?, settings = ?, updated_at = ?
		WHERE id = ?`,
		d.Name,
		d.Slug,
		string(settingsJSON),
		d.UpdatedAt.Format(time.RFC3339),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return requireRow(result)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(result)
}

// UpdateState merges the given capability values into the stored state,
// keeping keys not present in state.
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, state State) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET state = json_patch(COALESCE(state, '{}'), ?),
		    state_updated_at = ?,
		    updated_at = ?
		WHERE id = ?`,
		string(stateJSON), now, now, id,
	)
	if err != nil {
		return fmt.Errorf("updating device state: %w", err)
	}
	return requireRow(result)
}

// UpdateHealth records availability.
func (r *SQLiteRepository) UpdateHealth(ctx context.Context, id string, status HealthStatus, reason string, lastSeen time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET health_status = ?, health_reason = ?, health_last_seen = ?, updated_at = ?
		WHERE id = ?`,
		string(status),
		nullableString(reason),
		lastSeen.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device health: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// rowScanner is implemented by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var kind, health string
	var settingsJSON, stateJSON string
	var stateUpdatedAt, healthReason, healthLastSeen sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&d.Slug,
		&kind,
		&d.Address,
		&d.ThermostatID,
		&settingsJSON,
		&stateJSON,
		&stateUpdatedAt,
		&health,
		&healthReason,
		&healthLastSeen,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Kind = thermostat.Kind(kind)
	d.HealthStatus = HealthStatus(health)
	d.HealthReason = healthReason.String
	d.StateUpdatedAt = parseNullableTime(stateUpdatedAt)
	d.HealthLastSeen = parseNullableTime(healthLastSeen)

	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if err := json.Unmarshal([]byte(settingsJSON), &d.Settings); err != nil {
		return nil, fmt.Errorf("unmarshalling settings: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &d.State); err != nil {
		return nil, fmt.Errorf("unmarshalling state: %w", err)
	}
	return &d, nil
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
