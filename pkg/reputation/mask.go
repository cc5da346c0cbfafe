package reputation

import (
	"net"
	"strconv"
	"strings"
)

// MaskIP redacts an address for diagnostic sinks: the last IPv4 octet becomes
// "xxx", IPv6 is reduced to its first two and last groups of the expanded
// form, so compressed addresses never pass through unmasked. Raw addresses
// belong only in the reputation store's own records.
func MaskIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "invalid"
	}
	if v4 := parsed.To4(); v4 != nil {
		parts := strings.Split(v4.String(), ".")
		parts[len(parts)-1] = "xxx"
		return strings.Join(parts, ".")
	}
	v6 := parsed.To16()
	group := func(i int) string {
		return strconv.FormatUint(uint64(v6[2*i])<<8|uint64(v6[2*i+1]), 16)
	}
	return group(0) + ":" + group(1) + ":...:" + group(7)
}
