package scanner

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Range is an address range in CIDR ("192.168.4.0/24"), single address, or
// nmap octet notation ("192.168.4.*", "10.0.1-3.10-20").
type Range struct {
	prefix netip.Prefix
	octets *[4][2]uint8
}

func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)

	if prefix, err := netip.ParsePrefix(s); err == nil {
		return Range{prefix: prefix.Masked()}, nil
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return Range{prefix: netip.PrefixFrom(addr, addr.BitLen())}, nil
	}

	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return Range{}, fmt.Errorf("scanner: invalid range %q", s)
	}

	var octets [4][2]uint8
	for i, part := range parts {
		lo, hi, err := parseOctet(part)
		if err != nil {
			return Range{}, fmt.Errorf("scanner: invalid range %q: %w", s, err)
		}
		octets[i] = [2]uint8{lo, hi}
	}

	return Range{octets: &octets}, nil
}

func parseOctet(s string) (uint8, uint8, error) {
	if s == "*" {
		return 0, 255, nil
	}

	lo, hi, isSpan := strings.Cut(s, "-")
	from, err := strconv.ParseUint(lo, 10, 8)
	if err != nil {
		return 0, 0, err
	}
	if !isSpan {
		return uint8(from), uint8(from), nil
	}

	to, err := strconv.ParseUint(hi, 10, 8)
	if err != nil {
		return 0, 0, err
	}
	if to < from {
		return 0, 0, fmt.Errorf("octet span %q is reversed", s)
	}

	return uint8(from), uint8(to), nil
}

func (r Range) Contains(addr netip.Addr) bool {
	if r.octets == nil {
		return r.prefix.Contains(addr)
	}

	if !addr.Unmap().Is4() {
		return false
	}
	ip := addr.Unmap().As4()
	for i, bounds := range r.octets {
		if ip[i] < bounds[0] || ip[i] > bounds[1] {
			return false
		}
	}

	return true
}

func parseRanges(ranges []string) ([]Range, error) {
	parsed := make([]Range, 0, len(ranges))
	for _, s := range ranges {
		r, err := ParseRange(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, r)
	}
	return parsed, nil
}
