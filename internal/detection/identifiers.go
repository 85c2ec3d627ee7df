// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"strconv"
	"strings"
)

// NormalizeIdentifier canonicalises a transmitter identifier. Hardware
// addresses in colon, dash, dot or bare-hex form become upper-case
// colon-separated octets and isMAC is true. Other identifiers, such as
// cell IDs, are trimmed and upper-cased. An empty result means the
// identifier is unusable.
func NormalizeIdentifier(raw string) (id string, isMAC bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	hex := strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', '.':
			return -1
		}
		return r
	}, s)
	if len(hex) == 12 && isHex(hex) && (len(s) == 12 || len(s) == 14 || len(s) == 17) {
		hex = strings.ToUpper(hex)
		var b strings.Builder
		b.Grow(17)
		for i := 0; i < 12; i += 2 {
			if i > 0 {
				b.WriteByte(':')
			}
			b.WriteString(hex[i : i+2])
		}
		return b.String(), true
	}
	return strings.ToUpper(s), false
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// macOctets parses a normalized MAC address into its six octets.
func macOctets(id string) ([6]byte, bool) {
	var out [6]byte
	parts := strings.Split(id, ":")
	if len(parts) != 6 {
		return out, false
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil || len(p) != 2 {
			return out, false
		}
		out[i] = byte(v)
	}
	return out, true
}

// splitMAC splits a normalized MAC into a prefix of prefixOctets octets and
// the numeric value of the remaining suffix.
func splitMAC(id string, prefixOctets int) (prefix string, suffix uint64, ok bool) {
	octets, ok := macOctets(id)
	if !ok || prefixOctets < 1 || prefixOctets > 5 {
		return "", 0, false
	}
	for i := prefixOctets; i < 6; i++ {
		suffix = suffix<<8 | uint64(octets[i])
	}
	return id[:prefixOctets*3-1], suffix, true
}

// isLocallyAdministered reports whether the MAC has the locally
// administered bit set, as randomized client addresses do.
func isLocallyAdministered(id string) bool {
	octets, ok := macOctets(id)
	return ok && octets[0]&0x02 != 0
}

// RadioTypeName maps a WiGLE network type letter to a readable name.
func RadioTypeName(letter string) string {
	switch strings.ToUpper(strings.TrimSpace(letter)) {
	case "W":
		return "wifi"
	case "B":
		return "bluetooth"
	case "E":
		return "ble"
	case "G":
		return "gsm"
	case "L":
		return "lte"
	case "N":
		return "nr"
	case "C":
		return "cdma"
	case "":
		return ""
	default:
		return strings.ToLower(strings.TrimSpace(letter))
	}
}
