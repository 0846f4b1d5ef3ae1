package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize bounds a single encoded frame on the wire.
const MaxFrameSize = 64 * 1024

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrFrameTooLarge  = errors.New("frame too large")
	ErrUnknownCodec   = errors.New("unknown codec")
)

// Codec moves whole frames over a byte stream. ReadFrame either returns one
// complete frame or an error; it never hands back a partial record.
//
// Cut and Parse serve readers that collect bytes themselves: Cut reports the
// length of the first complete frame in buf (0 while more bytes are needed)
// and Parse decodes exactly such a prefix.
type Codec interface {
	Name() string
	WriteFrame(w io.Writer, f *Frame) error
	ReadFrame(r *bufio.Reader) (*Frame, error)
	Cut(buf []byte) (int, error)
	Parse(data []byte) (*Frame, error)
}

// CodecByName returns the codec registered under name ("json" or "cbor").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// JSONCodec writes one JSON object per line.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) WriteFrame(w io.Writer, f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if len(data) >= MaxFrameSize {
		return ErrFrameTooLarge
	}
	// single write so a frame is never split between two writers
	_, err = w.Write(append(data, '\n'))
	return err
}

func (JSONCodec) ReadFrame(r *bufio.Reader) (*Frame, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxFrameSize {
			return nil, ErrFrameTooLarge
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, io.ErrUnexpectedEOF)
		}
		return nil, err
	}

	return JSONCodec{}.Parse(line)
}

func (JSONCodec) Cut(buf []byte) (int, error) {
	i := bytes.IndexByte(buf, '\n')
	switch {
	case i < 0 && len(buf) > MaxFrameSize, i+1 > MaxFrameSize:
		return 0, ErrFrameTooLarge
	case i < 0:
		return 0, nil
	}
	return i + 1, nil
}

func (JSONCodec) Parse(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &f, nil
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		MaxArrayElements: 65536,
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec writes a 4-byte big-endian length followed by the CBOR body.
type CBORCodec struct{}

func (CBORCodec) Name() string { return "cbor" }

func (CBORCodec) WriteFrame(w io.Writer, f *Frame) error {
	body, err := cborEnc.Marshal(f)
	if err != nil {
		return err
	}
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	_, err = w.Write(buf)
	return err
}

func (CBORCodec) ReadFrame(r *bufio.Reader) (*Frame, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
		}
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	return parseCBOR(body)
}

func (CBORCodec) Cut(buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, nil
	}
	size := binary.BigEndian.Uint32(buf)
	if size > MaxFrameSize {
		return 0, ErrFrameTooLarge
	}
	if n := 4 + int(size); len(buf) >= n {
		return n, nil
	}
	return 0, nil
}

// Parse decodes a length-prefixed frame as cut by Cut.
func (CBORCodec) Parse(data []byte) (*Frame, error) {
	if len(data) < 4 || int(binary.BigEndian.Uint32(data)) != len(data)-4 {
		return nil, fmt.Errorf("%w: length prefix mismatch", ErrMalformedFrame)
	}
	return parseCBOR(data[4:])
}

func parseCBOR(body []byte) (*Frame, error) {
	var f Frame
	if err := cborDec.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &f, nil
}
