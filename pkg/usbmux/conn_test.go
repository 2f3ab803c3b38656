package usbmux

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbmux-protocol/usbmux-go/pkg/transport"
	"github.com/usbmux-protocol/usbmux-go/pkg/wire"
)

// pipeConn returns a Conn over net.Pipe and the daemon side transport.
func pipeConn(t *testing.T, codec wire.Codec) (*Conn, *transport.Transport) {
	t.Helper()
	a, b := net.Pipe()
	peer := transport.New(b)
	c := NewConn(transport.New(a), codec, Options{})
	t.Cleanup(func() {
		c.Close()
		peer.Close()
	})
	return c, peer
}

// answer reads n requests on peer and replies to each with code.
// The request tags are sent on the returned channel once done.
func answer(t *testing.T, peer *transport.Transport, codec wire.Codec, n int, code wire.ResultCode) <-chan []uint32 {
	t.Helper()
	out := make(chan []uint32, 1)
	go func() {
		var tags []uint32
		defer func() { out <- tags }()
		for i := 0; i < n; i++ {
			f, err := peer.ReadPacket()
			if err != nil {
				return
			}
			req, err := codec.DecodeRequest(f)
			if err != nil {
				return
			}
			tags = append(tags, req.Tag)
			packet, err := codec.EncodeResponse(wire.Response{Kind: wire.KindResult, Tag: req.Tag, Code: code})
			if err != nil {
				return
			}
			if err := peer.WritePacket(packet); err != nil {
				return
			}
		}
	}()
	return out
}

func TestTagsStrictlyIncrease(t *testing.T) {
	for _, tc := range codecCases {
		t.Run(tc.name, func(t *testing.T) {
			codec := codecFor(tc.version)
			c, peer := pipeConn(t, codec)
			done := answer(t, peer, codec, 3, wire.ResultBadDevice)

			for i := 0; i < 3; i++ {
				relay, err := c.Connect(7, 1234)
				assert.Nil(t, relay)
				assert.ErrorIs(t, err, ErrDaemon)
				assert.Equal(t, ModeIdle, c.Mode())
			}
			assert.Equal(t, []uint32{1, 2, 3}, <-done)
		})
	}
}

func TestListenThenControlIsInvalid(t *testing.T) {
	codec := wire.NewBinaryCodec()
	c, peer := pipeConn(t, codec)
	done := answer(t, peer, codec, 1, wire.ResultOK)

	require.NoError(t, c.Listen())
	<-done
	assert.Equal(t, ModeListening, c.Mode())

	assert.ErrorIs(t, c.Listen(), ErrInvalidState)
	_, err := c.Connect(1, 22)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestConnectedModeIssuesNoControl(t *testing.T) {
	codec := wire.NewPlistCodec("", "")
	c, peer := pipeConn(t, codec)
	done := answer(t, peer, codec, 1, wire.ResultOK)

	relay, err := c.Connect(3, 8080)
	require.NoError(t, err)
	require.NotNil(t, relay)
	assert.Equal(t, []uint32{1}, <-done)
	assert.Equal(t, ModeConnected, c.Mode())

	_, err = c.Process(0)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, c.Listen(), ErrInvalidState)

	// Closing the session leaves the relay usable.
	require.NoError(t, c.Close())
	go peer.Send([]byte("hi"))
	buf := make([]byte, 2)
	_, err = relay.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf))
	relay.Close()
}

func TestProcessUnexpectedResult(t *testing.T) {
	codec := wire.NewBinaryCodec()
	c, peer := pipeConn(t, codec)

	packet, err := codec.EncodeResponse(wire.Response{Kind: wire.KindResult, Tag: 9, Code: wire.ResultOK})
	require.NoError(t, err)
	go peer.WritePacket(packet)

	_, err = c.Process(time.Second)
	assert.ErrorIs(t, err, ErrUnexpectedResult)
	assert.Equal(t, 0, c.Devices().Len())
	assert.NotEqual(t, ModeClosed, c.Mode())
}

func TestTagMismatchClosesConn(t *testing.T) {
	codec := wire.NewBinaryCodec()
	c, peer := pipeConn(t, codec)

	go func() {
		f, err := peer.ReadPacket()
		if err != nil {
			return
		}
		req, err := codec.DecodeRequest(f)
		if err != nil {
			return
		}
		packet, _ := codec.EncodeResponse(wire.Response{Kind: wire.KindResult, Tag: req.Tag + 1})
		peer.WritePacket(packet)
	}()

	relay, err := c.Connect(2, 62078)
	assert.Nil(t, relay)
	var tm *TagMismatchError
	require.ErrorAs(t, err, &tm)
	assert.Equal(t, uint32(1), tm.Expected)
	assert.Equal(t, uint32(2), tm.Actual)
	assert.ErrorIs(t, err, wire.ErrMalformed)
	assert.Equal(t, ModeClosed, c.Mode())

	_, err = c.Connect(2, 62078)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestProcessVersionMismatch(t *testing.T) {
	c, peer := pipeConn(t, wire.NewBinaryCodec())

	packet, err := wire.NewPlistCodec("", "").EncodeResponse(wire.Response{Kind: wire.KindDeviceRemove, DeviceID: 1})
	require.NoError(t, err)
	go peer.WritePacket(packet)

	_, err = c.Process(time.Second)
	var ve *wire.VersionError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, uint32(0), ve.Expected)
	assert.Equal(t, uint32(1), ve.Actual)
}

func TestProcessTimeoutLeavesRegistry(t *testing.T) {
	c, _ := pipeConn(t, wire.NewBinaryCodec())

	delta, err := c.Process(20 * time.Millisecond)
	require.NoError(t, err)
	assert.True(t, delta.Empty())
	assert.Equal(t, 0, c.Devices().Len())
}

func TestClosingTransportAbortsProcess(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	tr := transport.New(a)
	c := NewConn(tr, wire.NewBinaryCodec(), Options{})

	errc := make(chan error, 1)
	go func() {
		_, err := c.Process(NoTimeout)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tr.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("process did not return after close")
	}
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "IDLE", ModeIdle.String())
	assert.Equal(t, "LISTENING", ModeListening.String())
	assert.Equal(t, "CONNECTED", ModeConnected.String())
	assert.Equal(t, "CLOSED", ModeClosed.String())
	assert.Equal(t, "UNKNOWN", Mode(42).String())
}

func codecFor(version uint32) wire.Codec {
	if version == wire.VersionPlist {
		return wire.NewPlistCodec("", "")
	}
	return wire.NewBinaryCodec()
}
