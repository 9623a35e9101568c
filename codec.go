package spdy

import (
	"bytes"
	"compress/zlib"
	"io"
	"io/ioutil"
	"sync"
)

// ControlType identifies a control frame. Values follow the SPDY numbering.
type ControlType uint16

const (
	TypeSynStream    ControlType = 1
	TypeSynReply     ControlType = 2
	TypeRstStream    ControlType = 3
	TypeSettings     ControlType = 4
	TypePing         ControlType = 6
	TypeGoAway       ControlType = 7
	TypeHeaders      ControlType = 8
	TypeWindowUpdate ControlType = 9
)

// Frame flags.
const (
	FlagFin byte = 0x01
)

// ControlFrame is a control frame as seen by the engine. The payload is
// opaque except for the handful of types the session itself consumes (PING,
// GOAWAY, WINDOW_UPDATE).
type ControlFrame struct {
	Version uint16
	Type    ControlType
	Flags   byte
	Payload []byte
}

// DataFrame carries stream data.
type DataFrame struct {
	StreamID uint32
	Flags    byte
	Data     []byte
}

// compressedType reports whether a control type's payload carries a
// header block and therefore runs through the compressor.
func compressedType(t ControlType) bool {
	return t == TypeSynStream || t == TypeSynReply || t == TypeHeaders
}

// Compressor compresses header-bearing control payloads.
type Compressor interface {
	Compress(b []byte) ([]byte, error)
}

// Decompressor reverses a Compressor.
type Decompressor interface {
	Decompress(b []byte) ([]byte, error)
}

// CompressionFactory produces matched compressor/decompressor pairs for a
// generator/parser pair.
type CompressionFactory interface {
	NewCompressor() Compressor
	NewDecompressor() Decompressor
}

// headerDictionary seeds the zlib context with tokens common in header
// blocks so that small payloads still compress usefully.
var headerDictionary = []byte("optionsgetheadpostputdeletetraceacceptaccept-charsetaccept-encodingaccept-languageauthorizationexpectfromhostif-modified-sinceif-matchif-none-matchif-rangeif-unmodified-sincemax-forwardsproxy-authorizationrangerefererteuser-agentcontent-lengthcontent-typecontent-encodingcache-controlconnectioncookiedatelast-modifiedlocationserverset-cookiestatustransfer-encodingversionurlpublicmax-agecharset=iso-8859-1utf-8gzipdeflateHTTP/1.1statusversionurl")

// StandardCompressionFactory builds zlib-backed pairs.
type StandardCompressionFactory struct{}

func (StandardCompressionFactory) NewCompressor() Compressor {
	return &zlibCompressor{}
}

func (StandardCompressionFactory) NewDecompressor() Decompressor {
	return &zlibDecompressor{}
}

type zlibCompressor struct {
	mx sync.Mutex
}

func (c *zlibCompressor) Compress(b []byte) ([]byte, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevelDict(&buf, zlib.BestSpeed, headerDictionary)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type zlibDecompressor struct {
	mx sync.Mutex
}

func (d *zlibDecompressor) Decompress(b []byte) ([]byte, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	r, err := zlib.NewReaderDict(bytes.NewReader(b), headerDictionary)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ioutil.ReadAll(r)
}

// Generator encodes structured frames into wire bytes, drawing buffers from
// the shared pool wherever a frame fits.
type Generator struct {
	pool       BufferPool
	compressor Compressor
}

// NewGenerator constructs a Generator using the given pool and compressor.
func NewGenerator(pool BufferPool, compressor Compressor) *Generator {
	return &Generator{pool: pool, compressor: compressor}
}

// ControlFrame yields the wire bytes for f. Release the returned buffer via
// Release once written.
func (g *Generator) ControlFrame(f *ControlFrame) ([]byte, error) {
	payload := f.Payload
	if compressedType(f.Type) && len(payload) > 0 {
		compressed, err := g.compressor.Compress(payload)
		if err != nil {
			return nil, err
		}
		payload = compressed
	}
	if len(payload) > maxFrameDataLen {
		return nil, log.Errorf("control payload of %d exceeds maximum of %d", len(payload), maxFrameDataLen)
	}
	b := g.buffer(frameHeaderSize + len(payload))
	binaryEncoding.PutUint16(b, 0x8000|f.Version)
	binaryEncoding.PutUint16(b[2:], uint16(f.Type))
	b[4] = f.Flags
	putUint24(b[5:], len(payload))
	copy(b[frameHeaderSize:], payload)
	return b, nil
}

// DataFrame yields the wire bytes for f. Release the returned buffer via
// Release once written.
func (g *Generator) DataFrame(f *DataFrame) ([]byte, error) {
	if len(f.Data) > maxFrameDataLen {
		return nil, log.Errorf("data frame of %d exceeds maximum of %d", len(f.Data), maxFrameDataLen)
	}
	b := g.buffer(frameHeaderSize + len(f.Data))
	binaryEncoding.PutUint32(b, f.StreamID&0x7fffffff)
	b[4] = f.Flags
	putUint24(b[5:], len(f.Data))
	copy(b[frameHeaderSize:], f.Data)
	return b, nil
}

// Release returns a generated buffer to the pool when pooled.
func (g *Generator) Release(b []byte) {
	if cap(b) >= frameBufferSize {
		g.pool.Put(b)
	}
}

func (g *Generator) buffer(size int) []byte {
	if size <= frameBufferSize {
		return g.pool.Get()[:size]
	}
	return make([]byte, size)
}

func putUint24(b []byte, v int) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func uint24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}

// FrameListener receives decoded frames from a Parser, in the order the
// bytes were read from the wire.
type FrameListener interface {
	OnControlFrame(f *ControlFrame)
	OnDataFrame(f *DataFrame)
}

// Parser decodes a byte stream into frame-listener callbacks.
type Parser struct {
	decompressor Decompressor
	pool         BufferPool
	listener     FrameListener
}

// NewParser constructs a Parser with the given decompressor.
func NewParser(pool BufferPool, decompressor Decompressor) *Parser {
	return &Parser{pool: pool, decompressor: decompressor}
}

// SetListener installs the frame listener, typically the Session.
func (p *Parser) SetListener(l FrameListener) {
	p.listener = l
}

// Parse reads exactly one frame from r and dispatches it to the listener.
// It blocks until a full frame arrives or r fails.
func (p *Parser) Parse(r io.Reader) error {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	length := uint24(header[5:])
	if length > maxFrameDataLen {
		return log.Errorf("frame of %d exceeds maximum of %d", length, maxFrameDataLen)
	}
	var payload []byte
	pooled := length <= frameBufferSize
	if pooled {
		payload = p.pool.Get()[:length]
	} else {
		payload = make([]byte, length)
	}
	if _, err := io.ReadFull(r, payload); err != nil {
		if pooled {
			p.pool.Put(payload)
		}
		return err
	}

	if header[0]&0x80 != 0 {
		f := &ControlFrame{
			Version: binaryEncoding.Uint16(header) & 0x7fff,
			Type:    ControlType(binaryEncoding.Uint16(header[2:])),
			Flags:   header[4],
			Payload: payload,
		}
		if compressedType(f.Type) && len(payload) > 0 {
			decompressed, err := p.decompressor.Decompress(payload)
			if pooled {
				p.pool.Put(payload)
				pooled = false
			}
			if err != nil {
				return log.Errorf("unable to decompress header block: %v", err)
			}
			f.Payload = decompressed
		}
		p.listener.OnControlFrame(f)
		if pooled {
			p.pool.Put(payload)
		}
		return nil
	}

	f := &DataFrame{
		StreamID: binaryEncoding.Uint32(header) & 0x7fffffff,
		Flags:    header[4],
		Data:     payload,
	}
	p.listener.OnDataFrame(f)
	if pooled {
		p.pool.Put(payload)
	}
	return nil
}
