package device

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// inventoryFile is the on-disk layout of a device inventory.
//
//	devices:
//	  - id: living-room-lamp
//	    device_type: Yeelight
//	    address: 192.168.1.40
//	    token: 00112233445566778899aabbccddeeff
type inventoryFile struct {
	Devices []Record `yaml:"devices"`
}

// LoadInventory reads a YAML device inventory and builds every entry through
// the factory. All invalid entries are reported together; nothing is
// returned unless every entry is valid.
func (f *Factory) LoadInventory(path string) ([]Device, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	return f.ParseInventory(data)
}

// ParseInventory builds devices from YAML inventory bytes.
func (f *Factory) ParseInventory(data []byte) ([]Device, error) {
	var inv inventoryFile
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("%w: parsing inventory: %v", ErrMalformedRecord, err)
	}

	devices := make([]Device, 0, len(inv.Devices))
	seen := make(map[string]int, len(inv.Devices))
	var errs []error
	for i, rec := range inv.Devices {
		d, err := f.FromRecord(rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("devices[%d]: %w", i, err))
			continue
		}
		if prev, dup := seen[d.ID()]; dup {
			errs = append(errs, fmt.Errorf("devices[%d]: %w: id %q also used by devices[%d]", i, ErrDeviceExists, d.ID(), prev))
			continue
		}
		seen[d.ID()] = i
		devices = append(devices, d)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return devices, nil
}
