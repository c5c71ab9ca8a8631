// Package filter suppresses the ICMP "protocol unreachable" messages
// a host's own kernel sends when it receives a raw IP datagram whose
// protocol number nothing in its network stack recognizes. transport/rawip
// needs this on its listening side: the kernel has no socket bound to
// RSSI's protocol number, so every inbound segment would otherwise
// provoke an ICMP reply back at the sender, which some peers' stacks
// treat as a hard connection-refused signal.
//
// This generalizes the teacher's filter package, which did the
// equivalent job for PCP's TCP-RST and UDP-ICMP suppression with
// PCP's fixed protocol/port baked into each method name; here the
// protocol number is a parameter instead.
package filter

// Filter installs and removes the ICMP-suppression rule for one
// listening rawip endpoint. Implementations are platform-specific
// (filter-linux.go, filter-macos.go, filter-win.go) because each OS
// exposes packet filtering through a different mechanism.
type Filter interface {
	// AddServerFiltering stops protocolID's ICMP protocol-unreachable
	// replies originating from localIP.
	AddServerFiltering(localIP string, protocolID int) error
	// RemoveServerFiltering undoes a single AddServerFiltering call.
	RemoveServerFiltering(localIP string, protocolID int) error
	// FinishFiltering removes every rule this Filter installed.
	FinishFiltering() error
}
