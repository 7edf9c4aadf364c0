package util

import (
	"net"
)

var (
	privateIPv4Ranges = mustParseCIDRs(
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
	)
	linkLocalIPv4Range = mustParseCIDRs("169.254.0.0/16")
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	subnets := make([]*net.IPNet, len(cidrs))
	for i, cidr := range cidrs {
		_, subnet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		subnets[i] = subnet
	}
	return subnets
}

// Returns true if the provided IP falls within a private address range
func IsPrivateSubnet(ip net.IP) bool {
	return containedIn(ip, privateIPv4Ranges)
}

// Returns true if the provided IPv4 address is private or link-local.
// Anything that does not parse as IPv4 returns false.
func IsPrivateIPv4(address string) bool {
	ip := net.ParseIP(address)
	if ip == nil || ip.To4() == nil {
		return false
	}
	return IsPrivateSubnet(ip) || containedIn(ip, linkLocalIPv4Range)
}

func containedIn(ip net.IP, subnets []*net.IPNet) bool {
	for _, subnet := range subnets {
		if subnet.Contains(ip) {
			return true
		}
	}
	return false
}
