package capture

import (
	"bytes"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseICEServers(t *testing.T) {
	assert.Equal(t, defaultICE, parseICEServers(nil))
	assert.Equal(t, defaultICE, parseICEServers([]string{""}))
	got := parseICEServers([]string{"stun:a:1", "", "turn:b:2"})
	require.Len(t, got, 2)
	assert.Equal(t, []string{"turn:b:2"}, got[1].URLs)
}

func TestIVFChunker_HeaderThenKeyframe(t *testing.T) {
	c, err := newIVFChunker(time.Second)
	require.NoError(t, err)

	head := c.flush()
	require.Len(t, head, 32)
	assert.True(t, bytes.HasPrefix(head, []byte("DKIF")))
	assert.Nil(t, c.flush())

	// VP8 payload descriptor with S=1, then a keyframe (P bit clear).
	frame := []byte{0x00, 0x01, 0x02, 0x03, 0x04}
	pkt := &rtp.Packet{
		Header:  rtp.Header{Version: 2, Marker: true, PayloadType: vp8PayloadType, Timestamp: 3000},
		Payload: append([]byte{0x10}, frame...),
	}
	require.NoError(t, c.write(pkt))

	start := c.last
	assert.Nil(t, c.due(start.Add(500*time.Millisecond)))
	got := c.due(start.Add(time.Second))
	assert.Len(t, got, 12+len(frame))
	assert.True(t, bytes.HasSuffix(got, frame))
}

func TestRTCStream_PumpFlushesAndEnds(t *testing.T) {
	c, err := newIVFChunker(time.Hour)
	require.NoError(t, err)
	s := &rtcStream{events: make(chan Event, eventBuffer), done: make(chan struct{}), logger: nopLogger()}

	calls := 0
	go s.pump(c, func() (*rtp.Packet, error) {
		calls++
		if calls == 1 {
			return &rtp.Packet{Header: rtp.Header{Version: 2}, Payload: []byte{}}, nil
		}
		return nil, assert.AnError
	})

	var events []Event
	for ev := range s.events {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, EventChunk, events[0].Kind)
	assert.Len(t, events[0].Data, 32)
	assert.Equal(t, EventEnded, events[1].Kind)
}
