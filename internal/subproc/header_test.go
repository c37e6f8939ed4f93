package subproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/otus-ingest/internal/core"
)

func TestParseStreamHeader(t *testing.T) {
	tests := []struct {
		name string
		line string
		want StreamHeader
	}{
		{
			name: "full",
			line: `{"datalen":60,"actlen":1514,"ts_sec":1700000000,"ts_usec":42}`,
			want: StreamHeader{DataLen: 60, ActLen: 1514, TsSec: 1700000000, TsUsec: 42},
		},
		{
			name: "timestamps default to zero",
			line: `{"datalen":0,"actlen":0}`,
			want: StreamHeader{},
		},
		{
			name: "nanoseconds",
			line: `{"datalen":4,"actlen":4,"ts_sec":1,"ts_nsec":999999999}`,
			want: StreamHeader{DataLen: 4, ActLen: 4, TsSec: 1, TsUsec: 999999},
		},
		{
			name: "unknown fields ignored",
			line: `{"datalen":4,"actlen":9,"iface":"eth0"}`,
			want: StreamHeader{DataLen: 4, ActLen: 9},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStreamHeader([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseStreamHeader_Malformed(t *testing.T) {
	for _, line := range []string{
		`not json`,
		`{"datalen":4}`,
		`{"actlen":4}`,
		`{"datalen":-1,"actlen":4}`,
		`{"datalen":"4","actlen":4}`,
		`[1,2]`,
	} {
		_, err := ParseStreamHeader([]byte(line))
		assert.ErrorIs(t, err, core.ErrProtocol, "line %s", line)
	}
}
