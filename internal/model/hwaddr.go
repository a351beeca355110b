package model

import (
	"fmt"
	"net"
	"strings"
)

// HardwareAddr is a MAC-48 address in canonical form: upper case, colon separated.
type HardwareAddr string

func ParseHardwareAddr(s string) (HardwareAddr, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "-", ":")

	mac, err := net.ParseMAC(s)
	if err != nil {
		return "", NewError("hardware address", fmt.Errorf("%w: %q", ErrInvalid, s))
	}
	if len(mac) != 6 {
		return "", NewError("hardware address", fmt.Errorf("%w: %q is not a 48-bit address", ErrInvalid, s))
	}

	return HardwareAddr(strings.ToUpper(mac.String())), nil
}

func MustParseHardwareAddr(s string) HardwareAddr {
	addr, err := ParseHardwareAddr(s)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a HardwareAddr) String() string {
	return string(a)
}
