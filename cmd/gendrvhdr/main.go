// Command gendrvhdr reads a YAML PnP/PCI-match manifest and emits a
// driver.Header-compatible binary blob, so a driver's match identifiers
// live in one reviewable text file instead of hand-packed struct literals.
package main

import (
	"fmt"
	"io/ioutil"
	"os"

	"gopheros/driver"

	flags "github.com/jessevdk/go-flags"
	yaml "gopkg.in/yaml.v2"
)

type options struct {
	Manifest string `short:"m" long:"manifest" description:"path to the YAML manifest" required:"true"`
	Output   string `short:"o" long:"output" description:"path to write the binary header to" required:"true"`
}

// manifest is the YAML shape gendrvhdr accepts; field names match the
// lower-snake convention the rest of the domain stack's YAML consumers use.
type manifest struct {
	Name          string   `yaml:"name"`
	Version       [3]uint8 `yaml:"version"`
	Flags         []string `yaml:"flags"`
	StackSize     uint64   `yaml:"stack_size"`
	ACPIInitLevel uint32   `yaml:"acpi_init_level"`
	PCI           struct {
		VendorID uint16 `yaml:"vendor_id"`
		DeviceID uint16 `yaml:"device_id"`
		Class    uint8  `yaml:"class"`
		Subclass uint8  `yaml:"subclass"`
		ProgIF   uint8  `yaml:"prog_if"`
	} `yaml:"pci"`
	USB *struct {
		VendorID  uint16 `yaml:"vendor_id"`
		ProductID uint16 `yaml:"product_id"`
		BCDDevice uint16 `yaml:"bcd_device"`
	} `yaml:"usb"`
	PnPIDs []string `yaml:"pnp_ids"`
}

var flagNames = map[string]driver.HeaderFlag{
	"dirent_cb_paths": driver.FlagDirentCBPaths,
	"filesystem":      driver.FlagFilesystem,
	"hotplug":         driver.FlagHotplugCapable,
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	raw, err := ioutil.ReadFile(opts.Manifest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gendrvhdr: read manifest: %v\n", err)
		os.Exit(1)
	}

	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		fmt.Fprintf(os.Stderr, "gendrvhdr: parse manifest: %v\n", err)
		os.Exit(1)
	}

	hdr, err := buildHeader(m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gendrvhdr: %v\n", err)
		os.Exit(1)
	}

	if err := ioutil.WriteFile(opts.Output, hdr.MarshalBinary(), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "gendrvhdr: write output: %v\n", err)
		os.Exit(1)
	}
}

func buildHeader(m manifest) (*driver.Header, error) {
	if len(m.PnPIDs) > 32 {
		return nil, fmt.Errorf("manifest declares %d pnp_ids, at most 32 are supported", len(m.PnPIDs))
	}
	if len(m.Name) > 64 {
		return nil, fmt.Errorf("driver name %q exceeds 64 bytes", m.Name)
	}

	// Pack the major/minor/patch triple the same way device.Driver's
	// DriverVersion() reports it, into the header's single uint32 field.
	version := uint32(m.Version[0])<<16 | uint32(m.Version[1])<<8 | uint32(m.Version[2])

	hdr := &driver.Header{
		Magic:         driver.HeaderMagic,
		Version:       version,
		StackSize:     m.StackSize,
		ACPIInitLevel: m.ACPIInitLevel,
		PCI:           driver.PCIHID{VendorID: m.PCI.VendorID, DeviceID: m.PCI.DeviceID, Class: m.PCI.Class, Subclass: m.PCI.Subclass, ProgIF: m.PCI.ProgIF},
		PnPIDCount:    uint32(len(m.PnPIDs)),
	}
	copy(hdr.Name[:], m.Name)

	for _, f := range m.Flags {
		bit, ok := flagNames[f]
		if !ok {
			return nil, fmt.Errorf("unknown flag %q", f)
		}
		hdr.Flags |= uint32(bit)
	}

	for i, id := range m.PnPIDs {
		if len(id) > 8 {
			return nil, fmt.Errorf("pnp id %q exceeds 8 bytes", id)
		}
		copy(hdr.PnPIDs[i][:], id)
	}

	if m.USB != nil {
		hdr.USB = driver.USBHID{VendorID: m.USB.VendorID, ProductID: m.USB.ProductID, BCDDevice: m.USB.BCDDevice}
	}

	return hdr, nil
}
