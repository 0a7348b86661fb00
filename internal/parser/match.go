package parser

import (
	"strings"
)

var (
	devicePrefixes = []string{"PIONEER DJ ", "PIONEER ", "DJ "}
	deviceSuffixes = []string{" MIDI", " 2IN2OUT", " AUDIO"}
)

// NormalizeDeviceName upper-cases a port or table name and strips vendor
// prefixes and port suffixes, so "PIONEER DDJ-GRV6 MIDI" becomes "DDJ-GRV6".
func NormalizeDeviceName(name string) string {
	s := strings.ToUpper(strings.TrimSpace(name))
	s = strings.TrimSuffix(s, ".CSV")
	s = strings.TrimSuffix(s, ".MIDI")
	for _, p := range devicePrefixes {
		if strings.HasPrefix(s, p) {
			s = s[len(p):]
			break
		}
	}
	for _, suf := range deviceSuffixes {
		if strings.HasSuffix(s, suf) {
			s = s[:len(s)-len(suf)]
			break
		}
	}
	return strings.TrimSpace(s)
}

// MatchDevice picks the table for a port name. Exact matches on the table's
// device or file name win over a table whose name contains the port's model.
func MatchDevice(portName string, tables []*Table) *Table {
	model := NormalizeDeviceName(portName)
	if model == "" {
		return nil
	}

	for _, t := range tables {
		if NormalizeDeviceName(t.Identity.Device) == model || NormalizeDeviceName(t.Name) == model {
			return t
		}
	}
	for _, t := range tables {
		if strings.Contains(strings.ToUpper(t.Name), model) || strings.Contains(strings.ToUpper(t.Identity.Device), model) {
			return t
		}
	}
	return nil
}
