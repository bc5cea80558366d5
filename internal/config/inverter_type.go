package config

import (
	"fmt"
	"strings"
)

// InverterType selects the command backend.
type InverterType string

const (
	InverterTypeNone            InverterType = "none"
	InverterTypeFroniusLegacy   InverterType = "fronius_legacy"
	InverterTypeFroniusAdaptive InverterType = "fronius_adaptive"
	InverterTypeEVCC            InverterType = "evcc"
	InverterTypeSunSpecModbus   InverterType = "sunspec_modbus"
)

func InverterTypes() []InverterType {
	return []InverterType{InverterTypeNone, InverterTypeFroniusLegacy, InverterTypeFroniusAdaptive,
		InverterTypeEVCC, InverterTypeSunSpecModbus}
}

func ParseInverterType(s string) (InverterType, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch normalized {
	case "", "default":
		return InverterTypeNone, nil
	case "fronius_gen24_legacy":
		return InverterTypeFroniusLegacy, nil
	case "fronius_gen24", "fronius_gen24_v2":
		return InverterTypeFroniusAdaptive, nil
	}
	for _, t := range InverterTypes() {
		if string(t) == normalized {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown inverter type %q", s)
}

func (t InverterType) IsFronius() bool {
	return t == InverterTypeFroniusLegacy || t == InverterTypeFroniusAdaptive
}
