// Package inventory loads the fleet of managed devices from a YAML file:
//
//	routers:
//	  - hostname: core-r1
//	    ip: 10.0.0.1
//	    device_type: cisco_ios
package inventory

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	ndrerrors "ndr-go/internal/errors"
	"ndr-go/internal/model"
	"ndr-go/internal/ndr"
)

// DefaultKind is used for entries that omit device_type.
const DefaultKind = "cisco_ios"

type entry struct {
	Hostname   string `yaml:"hostname"`
	IP         string `yaml:"ip"`
	DeviceType string `yaml:"device_type"`
}

type document struct {
	Routers []entry `yaml:"routers"`
}

// YAMLInventory reads the inventory file on every call so edits are picked
// up without a restart.
type YAMLInventory struct {
	path string
}

var _ ndr.InventorySource = (*YAMLInventory)(nil)

func NewYAMLInventory(path string) *YAMLInventory {
	return &YAMLInventory{path: path}
}

func (i *YAMLInventory) Path() string {
	return i.path
}

// Devices returns the inventory in file order.
func (i *YAMLInventory) Devices() ([]model.Device, error) {
	f, err := os.Open(i.path)
	if err != nil {
		return nil, fmt.Errorf("opening inventory: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Find returns the device with the given hostname.
func (i *YAMLInventory) Find(hostname string) (model.Device, error) {
	devices, err := i.Devices()
	if err != nil {
		return model.Device{}, err
	}
	for _, d := range devices {
		if d.Hostname == hostname {
			return d, nil
		}
	}
	return model.Device{}, ndrerrors.NewWithContext(ndrerrors.ErrCodeNotFound,
		"device not in inventory", map[string]any{"hostname": hostname})
}

// Parse decodes and validates an inventory document. Hostnames must be
// unique and every entry needs an address.
func Parse(r io.Reader) ([]model.Device, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing inventory: %w", err)
	}

	seen := make(map[string]bool, len(doc.Routers))
	devices := make([]model.Device, 0, len(doc.Routers))
	for n, e := range doc.Routers {
		host := strings.TrimSpace(e.Hostname)
		if host == "" {
			return nil, fmt.Errorf("inventory entry %d: hostname is required", n+1)
		}
		if seen[host] {
			return nil, fmt.Errorf("inventory entry %d: duplicate hostname %q", n+1, host)
		}
		seen[host] = true

		addr := strings.TrimSpace(e.IP)
		if addr == "" {
			return nil, fmt.Errorf("inventory entry %d (%s): ip is required", n+1, host)
		}

		kind := strings.TrimSpace(e.DeviceType)
		if kind == "" {
			kind = DefaultKind
		}

		devices = append(devices, model.Device{Hostname: host, Address: addr, Kind: kind})
	}
	return devices, nil
}
