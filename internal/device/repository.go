package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (Device, error)

	// List retrieves all devices ordered by ID.
	List(ctx context.Context) ([]Device, error)

	// ListByType retrieves all devices of one device type.
	ListByType(ctx context.Context, t DeviceType) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, d Device) error

	// Update replaces the stored type and connection parameters of a device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, d Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
//
// Rows are rebuilt through Factory.FromRecord, so a stored device whose type
// is no longer registered, or whose address no longer validates, surfaces
// as the corresponding validation error rather than as a Device.
type SQLiteRepository struct {
	db      *sql.DB
	factory *Factory
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with migrations applied.
func NewSQLiteRepository(db *sql.DB, factory *Factory) *SQLiteRepository {
	return &SQLiteRepository{db: db, factory: factory}
}

const selectDevices = `
		SELECT id, device_type, address, token
		FROM miio_devices`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (Device, error) {
	row := r.db.QueryRowContext(ctx, selectDevices+` WHERE id = ?`, id)
	d, err := r.scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Device{}, ErrDeviceNotFound
		}
		return Device{}, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, selectDevices+` ORDER BY id`)
}

// ListByType retrieves all devices of one device type.
func (r *SQLiteRepository) ListByType(ctx context.Context, t DeviceType) ([]Device, error) {
	return r.queryDevices(ctx, selectDevices+` WHERE device_type = ? ORDER BY id`, string(t))
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d Device) error {
	if d.IsZero() {
		return newError(ErrInvalidID, "id", "device was not created by a factory")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO miio_devices (id, device_type, address, token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		d.ID(),
		string(d.Type()),
		d.conn.Address,
		d.conn.Token,
		now,
		now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update replaces the stored type and connection parameters of a device.
func (r *SQLiteRepository) Update(ctx context.Context, d Device) error {
	query := `
		UPDATE miio_devices
		SET device_type = ?, address = ?, token = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(d.Type()),
		d.conn.Address,
		d.conn.Token,
		time.Now().UTC().Format(time.RFC3339),
		d.ID(),
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return checkRowsAffected(result)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM miio_devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return checkRowsAffected(result)
}

func checkRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := r.scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row and rebuilds the Device through the factory.
func (r *SQLiteRepository) scanDevice(scanner rowScanner) (Device, error) {
	var id, deviceType, address, token string
	if err := scanner.Scan(&id, &deviceType, &address, &token); err != nil {
		return Device{}, err
	}
	return r.factory.FromRecord(Record{
		FieldID:         id,
		FieldDeviceType: deviceType,
		FieldAddress:    address,
		FieldToken:      token,
	})
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
