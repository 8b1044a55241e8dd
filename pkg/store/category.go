package store

import (
	"strings"

	"github.com/juju/errors"

	"github.com/devmirror/devmirror-go/pkg/wire"
)

// Category selects which tree an entry lives in.
type Category uint8

const (
	// Variable is a firmware variable described by the loaded firmware.
	Variable Category = iota

	// Alias is a user-defined name pointing to a variable or RPV, also
	// shipped with the firmware description.
	Alias

	// RuntimePublishedValue is a value published by the device itself,
	// available regardless of the loaded firmware.
	RuntimePublishedValue
)

// AllCategories lists every category in a stable order.
var AllCategories = []Category{Variable, Alias, RuntimePublishedValue}

// String returns the category name.
func (c Category) String() string {
	switch c {
	case Variable:
		return "VARIABLE"
	case Alias:
		return "ALIAS"
	case RuntimePublishedValue:
		return "RPV"
	default:
		return "UNKNOWN"
	}
}

// WireName returns the type name used on the wire.
func (c Category) WireName() string {
	switch c {
	case Variable:
		return wire.TypeVar
	case Alias:
		return wire.TypeAlias
	case RuntimePublishedValue:
		return wire.TypeRPV
	default:
		return ""
	}
}

// IsValid reports whether c is one of the known categories.
func (c Category) IsValid() bool {
	return c <= RuntimePublishedValue
}

// CategoryFromWire maps a wire type name to a category.
func CategoryFromWire(name string) (Category, bool) {
	switch name {
	case wire.TypeVar:
		return Variable, true
	case wire.TypeAlias:
		return Alias, true
	case wire.TypeRPV:
		return RuntimePublishedValue, true
	}
	return 0, false
}

// ParseCategory accepts wire names and the long forms used on the command
// line ("variable", "alias", "rpv").
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := CategoryFromWire(s); ok {
		return c, nil
	}
	switch s {
	case "variable", "vars":
		return Variable, nil
	case "aliases":
		return Alias, nil
	case "runtimepublishedvalue", "rpvs":
		return RuntimePublishedValue, nil
	}
	return 0, errors.NotValidf("category %q (use: var, alias, rpv)", s)
}
