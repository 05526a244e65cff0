package serial

import (
	"strings"

	"github.com/pkg/errors"
	"go.bug.st/serial/enumerator"
)

// Type identifies a family of USB serial adapters commonly found on GCODE boards.
type Type string

// The known device types.
const (
	TypeUnknown Type = "unknown"
	TypeArduino Type = "arduino"
	TypeCH340   Type = "ch340"
	TypeFTDI    Type = "ftdi"
)

// Description describes a specific serial device.
type Description struct {
	Type Type
	Path string
	VID  string
	PID  string
}

// SearchFilter narrows Search results. The zero value matches every USB serial device.
type SearchFilter struct {
	Type Type
}

var knownVendors = map[string]Type{
	"2341": TypeArduino,
	"2a03": TypeArduino,
	"1a86": TypeCH340,
	"0403": TypeFTDI,
}

// listPorts is a variable so tests can replace the enumerator.
var listPorts = enumerator.GetDetailedPortsList

// Search lists USB serial devices matching filter.
func Search(filter SearchFilter) ([]Description, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate serial ports")
	}

	var found []Description
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		devType, ok := knownVendors[strings.ToLower(p.VID)]
		if !ok {
			devType = TypeUnknown
		}
		if filter.Type != "" && filter.Type != devType {
			continue
		}
		found = append(found, Description{Type: devType, Path: p.Name, VID: p.VID, PID: p.PID})
	}
	return found, nil
}
