package core

import "strconv"

// LinkType is the numeric link-layer type of a capture source (pcap LINKTYPE_*).
type LinkType uint32

// Common link types.
const (
	LinkTypeNull     LinkType = 0
	LinkTypeEthernet LinkType = 1
	LinkTypeRaw      LinkType = 101
	LinkTypeLinuxSLL LinkType = 113
)

// LayerTokenPcap tags prefixed buffers coming from a stream producer.
const LayerTokenPcap = "[pcap]"

// LayerToken returns the layer identifier for frames of the given link type.
func LayerToken(link LinkType) string {
	return "[link-" + strconv.FormatUint(uint64(link), 10) + "]"
}
