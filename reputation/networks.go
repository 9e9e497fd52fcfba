package reputation

import "net"

// Reference data sets for local classification. These are deliberately
// static snapshots; the external providers cover the long tail.

// Known cloud/hosting provider ranges. An IP originating here is almost
// never a residential browser.
var hostingCIDRs = []string{
	// AWS
	"3.0.0.0/8", "13.0.0.0/8", "18.0.0.0/8", "34.0.0.0/8", "35.0.0.0/8",
	"52.0.0.0/8", "54.0.0.0/8",
	// Google Cloud
	"34.64.0.0/10", "35.184.0.0/13", "104.154.0.0/15", "104.196.0.0/14",
	// Azure
	"13.64.0.0/11", "20.0.0.0/8", "40.64.0.0/10", "52.224.0.0/11",
	// DigitalOcean
	"64.225.0.0/16", "104.131.0.0/16", "134.209.0.0/16", "138.68.0.0/16",
	"139.59.0.0/16", "142.93.0.0/16", "157.245.0.0/16", "159.65.0.0/16",
	"165.22.0.0/16", "167.99.0.0/16", "178.128.0.0/16", "188.166.0.0/16",
	"206.189.0.0/16",
	// Hetzner
	"5.9.0.0/16", "46.4.0.0/14", "78.46.0.0/15", "88.99.0.0/16",
	"95.216.0.0/14", "116.202.0.0/15", "135.181.0.0/16", "138.201.0.0/16",
	"144.76.0.0/16", "148.251.0.0/16", "157.90.0.0/16", "168.119.0.0/16",
	"176.9.0.0/16", "195.201.0.0/16",
	// OVH
	"51.38.0.0/16", "51.68.0.0/16", "51.75.0.0/16", "51.77.0.0/16",
	"51.83.0.0/16", "51.89.0.0/16", "51.91.0.0/16", "54.36.0.0/16",
	"54.37.0.0/16", "54.38.0.0/16", "135.125.0.0/16", "137.74.0.0/16",
	"141.94.0.0/16", "144.217.0.0/16", "145.239.0.0/16", "147.135.0.0/16",
	"149.56.0.0/16", "158.69.0.0/16", "164.132.0.0/16", "167.114.0.0/16",
	// Linode
	"45.33.0.0/16", "45.56.0.0/16", "45.79.0.0/16", "139.162.0.0/16",
	"172.104.0.0/15",
	// Vultr
	"45.32.0.0/16", "45.63.0.0/16", "45.76.0.0/16", "45.77.0.0/16",
	"108.61.0.0/16", "140.82.0.0/16", "144.202.0.0/16", "149.28.0.0/16",
}

// Ranges operated by commercial VPN services.
var vpnCIDRs = []string{
	"146.70.0.0/16",  // M247 (NordVPN, Surfshark exits)
	"185.159.156.0/22", // ProtonVPN
	"89.187.160.0/19",  // ExpressVPN / CDN77
	"143.244.32.0/19",  // Mullvad
	"45.83.88.0/21",    // Mullvad
	"193.32.248.0/22",  // PIA
	"181.214.0.0/16",   // IPXO leases common to VPN exits
}

// Open/commercial proxy ranges.
var proxyCIDRs = []string{
	"103.152.112.0/22",
	"104.227.0.0/16", // proxy resellers
	"154.16.0.0/16",
	"191.96.0.0/16",
	"196.16.0.0/14",
}

// Country reference ranges for well-known stable allocations. This is the
// local geolocation source; providers fill in the long tail. Informational
// only, contributes no score.
var countryRanges = []struct {
	cidr    string
	country string
}{
	// Public resolvers
	{"8.8.8.0/24", "US"}, {"8.8.4.0/24", "US"}, // Google DNS
	{"1.1.1.0/24", "AU"}, {"1.0.0.0/24", "AU"}, // APNIC / Cloudflare
	{"9.9.9.0/24", "US"}, // Quad9
	// Large corporate allocations
	{"17.0.0.0/8", "US"},  // Apple
	{"24.0.0.0/12", "US"}, // Comcast
	{"73.0.0.0/8", "US"},  // Comcast
	// Registries and research networks
	{"193.0.0.0/21", "NL"},    // RIPE NCC
	{"202.12.27.0/24", "JP"},  // WIDE
	{"200.160.0.0/20", "BR"},  // NIC.br
	{"128.100.0.0/16", "CA"},  // University of Toronto
	{"129.13.0.0/16", "DE"},   // KIT
	{"130.89.0.0/16", "NL"},   // University of Twente
	{"131.111.0.0/16", "GB"},  // University of Cambridge
	{"133.0.0.0/8", "JP"},     // JPNIC block
	{"150.101.0.0/16", "AU"},  // Internode
	{"212.58.224.0/19", "GB"}, // BBC
	{"217.160.0.0/16", "DE"},  // 1&1
}

// Sample of well-known long-lived Tor exit node addresses. The provider
// lookup confirms fresher ones.
var torExitIPs = []string{
	"171.25.193.20",
	"171.25.193.25",
	"185.220.100.240",
	"185.220.101.1",
	"185.220.101.32",
	"192.42.116.16",
	"199.87.154.255",
	"204.13.164.118",
	"109.70.100.1",
	"109.70.100.2",
}

type geoRange struct {
	net     *net.IPNet
	country string
}

type networkSets struct {
	hosting  []*net.IPNet
	vpn      []*net.IPNet
	proxy    []*net.IPNet
	torExits map[string]struct{}
	geo      []geoRange
}

func loadNetworkSets() *networkSets {
	s := &networkSets{torExits: make(map[string]struct{}, len(torExitIPs))}
	s.hosting = parseCIDRs(hostingCIDRs)
	s.vpn = parseCIDRs(vpnCIDRs)
	s.proxy = parseCIDRs(proxyCIDRs)
	for _, ip := range torExitIPs {
		s.torExits[ip] = struct{}{}
	}
	for _, r := range countryRanges {
		if _, ipNet, err := net.ParseCIDR(r.cidr); err == nil {
			s.geo = append(s.geo, geoRange{net: ipNet, country: r.country})
		}
	}
	return s
}

// countryFor resolves an IP against the reference ranges. Empty string means
// unknown locally; a provider may still resolve it.
func (s *networkSets) countryFor(ip net.IP) string {
	for _, r := range s.geo {
		if r.net.Contains(ip) {
			return r.country
		}
	}
	return ""
}

func parseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, ipNet)
		}
	}
	return nets
}

func containsIP(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
