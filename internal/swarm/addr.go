package swarm

import (
	"net"
	"strconv"
)

func net4(b [4]byte) net.IP {
	return net.IPv4(b[0], b[1], b[2], b[3])
}

func portString(port uint16) string {
	return strconv.FormatUint(uint64(port), 10)
}
