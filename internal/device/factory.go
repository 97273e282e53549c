package device

// Factory constructs validated Devices against a TypeRegistry.
// Construction is purely local: no network I/O and no library calls.
type Factory struct {
	registry *TypeRegistry
	newID    func() string
}

// NewFactory creates a factory bound to registry.
func NewFactory(registry *TypeRegistry) *Factory {
	return &Factory{
		registry: registry,
		newID:    GenerateID,
	}
}

// Registry returns the registry the factory validates against.
func (f *Factory) Registry() *TypeRegistry {
	return f.registry
}

// Create builds a Device with a freshly generated ID.
// Returns ErrUnknownDeviceType or ErrInvalidConnectionParams on bad input.
func (f *Factory) Create(t DeviceType, conn ConnectionParams) (Device, error) {
	return f.build(f.newID(), t, conn)
}

// CreateWithID builds a Device with a caller-chosen ID, for inventories
// that name devices themselves.
func (f *Factory) CreateWithID(id string, t DeviceType, conn ConnectionParams) (Device, error) {
	if err := ValidateID(id); err != nil {
		return Device{}, err
	}
	return f.build(id, t, conn)
}

// Rebind returns a copy of d with new connection parameters, keeping its ID
// and type. Used when a device is re-addressed or re-keyed.
func (f *Factory) Rebind(d Device, conn ConnectionParams) (Device, error) {
	if d.IsZero() {
		return Device{}, newError(ErrInvalidID, "id", "device was not created by a factory")
	}
	return f.build(d.id, d.typ, conn)
}

func (f *Factory) build(id string, t DeviceType, conn ConnectionParams) (Device, error) {
	if !f.registry.Has(t) {
		return Device{}, newError(ErrUnknownDeviceType, "device_type", "%q is not registered", t)
	}
	if err := ValidateConnectionParams(conn); err != nil {
		return Device{}, err
	}
	return Device{id: id, typ: t, conn: conn}, nil
}
