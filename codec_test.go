package spdy

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

type capturingListener struct {
	controls []*ControlFrame
	datas    []*DataFrame
}

func (l *capturingListener) OnControlFrame(f *ControlFrame) {
	l.controls = append(l.controls, cloneControlFrame(f))
}

func (l *capturingListener) OnDataFrame(f *DataFrame) {
	l.datas = append(l.datas, cloneDataFrame(f))
}

func newTestCodec() (*Generator, *Parser, *capturingListener) {
	pool := NewBufferPool(256 * 1024)
	compression := StandardCompressionFactory{}
	g := NewGenerator(pool, compression.NewCompressor())
	p := NewParser(pool, compression.NewDecompressor())
	l := &capturingListener{}
	p.SetListener(l)
	return g, p, l
}

func TestCodecControlFrameRoundTrip(t *testing.T) {
	g, p, l := newTestCodec()

	in := &ControlFrame{Version: Version3, Type: TypeSettings, Flags: FlagFin, Payload: []byte("settings")}
	b, err := g.ControlFrame(in)
	if !assert.NoError(t, err) {
		return
	}
	assert.NoError(t, p.Parse(bytes.NewReader(b)))

	if !assert.Len(t, l.controls, 1) {
		return
	}
	out := l.controls[0]
	assert.Equal(t, Version3, out.Version)
	assert.Equal(t, TypeSettings, out.Type)
	assert.Equal(t, FlagFin, out.Flags)
	assert.Equal(t, "settings", string(out.Payload))
}

func TestCodecCompressesHeaderBlocks(t *testing.T) {
	g, p, l := newTestCodec()

	// a header block full of dictionary words compresses well
	headers := bytes.Repeat([]byte("content-typecontent-lengthuser-agent"), 50)
	in := &ControlFrame{Version: Version2, Type: TypeSynStream, Payload: headers}
	b, err := g.ControlFrame(in)
	if !assert.NoError(t, err) {
		return
	}
	assert.True(t, len(b) < len(headers)/2, "Header blocks should be compressed on the wire")

	assert.NoError(t, p.Parse(bytes.NewReader(b)))
	if !assert.Len(t, l.controls, 1) {
		return
	}
	assert.Equal(t, headers, l.controls[0].Payload, "Decompression should restore the original block")
}

func TestCodecDataFrameRoundTrip(t *testing.T) {
	g, p, l := newTestCodec()

	in := &DataFrame{StreamID: 5, Flags: FlagFin, Data: []byte("hello")}
	b, err := g.DataFrame(in)
	if !assert.NoError(t, err) {
		return
	}
	assert.NoError(t, p.Parse(bytes.NewReader(b)))

	if !assert.Len(t, l.datas, 1) {
		return
	}
	out := l.datas[0]
	assert.EqualValues(t, 5, out.StreamID)
	assert.Equal(t, FlagFin, out.Flags)
	assert.Equal(t, "hello", string(out.Data))
}

func TestCodecWireOrderPreserved(t *testing.T) {
	g, p, l := newTestCodec()

	var wire bytes.Buffer
	for i := 0; i < 5; i++ {
		b, err := g.DataFrame(&DataFrame{StreamID: uint32(2*i + 1), Data: []byte{byte(i)}})
		if !assert.NoError(t, err) {
			return
		}
		wire.Write(b)
		g.Release(b)
	}

	r := bytes.NewReader(wire.Bytes())
	for i := 0; i < 5; i++ {
		assert.NoError(t, p.Parse(r))
	}
	if !assert.Len(t, l.datas, 5) {
		return
	}
	for i, f := range l.datas {
		assert.EqualValues(t, 2*i+1, f.StreamID, "Frames must be delivered in wire order")
	}
}

func TestCodecLargeFrameBypassesPool(t *testing.T) {
	g, p, l := newTestCodec()

	big := make([]byte, frameBufferSize*2)
	for i := range big {
		big[i] = byte(i)
	}
	b, err := g.DataFrame(&DataFrame{StreamID: 1, Data: big})
	if !assert.NoError(t, err) {
		return
	}
	assert.NoError(t, p.Parse(bytes.NewReader(b)))
	if !assert.Len(t, l.datas, 1) {
		return
	}
	assert.Equal(t, big, l.datas[0].Data)
}

func TestCodecTruncatedFrame(t *testing.T) {
	g, p, _ := newTestCodec()

	b, err := g.DataFrame(&DataFrame{StreamID: 1, Data: []byte("truncated")})
	if !assert.NoError(t, err) {
		return
	}
	err = p.Parse(bytes.NewReader(b[:len(b)-3]))
	assert.Equal(t, io.ErrUnexpectedEOF, err)

	err = p.Parse(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, err)
}
