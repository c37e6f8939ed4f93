package subproc

import (
	"fmt"

	"firestige.xyz/otus-ingest/internal/core"
)

// StreamHeader announces the payload that follows it on the stream.
type StreamHeader struct {
	DataLen uint32 // captured bytes that follow the line
	ActLen  uint32 // original length on the wire
	TsSec   uint32
	TsUsec  uint32
}

type rawStreamHeader struct {
	DataLen *uint32 `json:"datalen"`
	ActLen  *uint32 `json:"actlen"`
	TsSec   uint32  `json:"ts_sec"`
	TsUsec  uint32  `json:"ts_usec"`
	TsNsec  *uint32 `json:"ts_nsec"`
}

// ParseStreamHeader decodes one JSON header line. datalen and actlen are
// required; a ts_nsec field replaces ts_usec and is scaled to microseconds.
func ParseStreamHeader(line []byte) (StreamHeader, error) {
	var raw rawStreamHeader
	if err := json.Unmarshal(line, &raw); err != nil {
		return StreamHeader{}, fmt.Errorf("%w: %w", core.ErrProtocol, err)
	}
	if raw.DataLen == nil {
		return StreamHeader{}, fmt.Errorf("%w: header lacks datalen", core.ErrProtocol)
	}
	if raw.ActLen == nil {
		return StreamHeader{}, fmt.Errorf("%w: header lacks actlen", core.ErrProtocol)
	}

	h := StreamHeader{
		DataLen: *raw.DataLen,
		ActLen:  *raw.ActLen,
		TsSec:   raw.TsSec,
		TsUsec:  raw.TsUsec,
	}
	if raw.TsNsec != nil {
		h.TsUsec = *raw.TsNsec / 1000
	}
	return h, nil
}
