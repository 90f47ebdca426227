package axml

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// String pool flags.
const (
	SortedFlag uint32 = 1 << 0
	UTF8Flag   uint32 = 1 << 8
)

const (
	maxLength8  = 0x7FFF
	maxLength16 = 0x7FFFFFFF
)

// StringPool is the ordered string table of a document. Strings are only ever
// addressed by index: existing indices keep their position for the lifetime of
// the pool, so a string can be replaced in place or appended, never removed.
// Style spans are kept opaque.
type StringPool struct {
	Flags uint32

	strings      []string
	styleOffsets []uint32
	styleData    []byte
}

type stringPoolHeader struct {
	Type         ChunkType
	HeaderSize   uint16
	Size         uint32
	StringCount  uint32
	StyleCount   uint32
	Flags        uint32
	StringsStart uint32
	StylesStart  uint32
}

// NewStringPool returns a pool holding strs in order.
func NewStringPool(flags uint32, strs ...string) *StringPool {
	return &StringPool{
		Flags:   flags,
		strings: append([]string(nil), strs...),
	}
}

// Len returns the number of strings; valid indices are [0, Len).
func (p *StringPool) Len() int {
	return len(p.strings)
}

// Get returns the string at idx.
func (p *StringPool) Get(idx uint32) (string, bool) {
	if uint64(idx) >= uint64(len(p.strings)) {
		return "", false
	}
	return p.strings[idx], true
}

// Set overwrites the string at idx and returns the previous one. Every
// reference to idx observes the new string.
func (p *StringPool) Set(idx uint32, s string) (string, bool) {
	if uint64(idx) >= uint64(len(p.strings)) {
		return "", false
	}
	old := p.strings[idx]
	p.strings[idx] = s
	p.Flags &^= SortedFlag
	return old, true
}

// Append adds s at the next free index and returns that index.
func (p *StringPool) Append(s string) uint32 {
	p.strings = append(p.strings, s)
	p.Flags &^= SortedFlag
	return uint32(len(p.strings) - 1)
}

// Strings returns a copy of the pool contents.
func (p *StringPool) Strings() []string {
	return append([]string(nil), p.strings...)
}

func (p *StringPool) isUTF8() bool {
	return p.Flags&UTF8Flag != 0
}

func decodeStringPool(chunk []byte, headerSize uint16) (*StringPool, error) {
	if headerSize < stringPoolHeaderSize || len(chunk) < stringPoolHeaderSize {
		return nil, fmt.Errorf("%w: string pool header too short (%d)", ErrMalformed, headerSize)
	}

	le := binary.LittleEndian
	count := le.Uint32(chunk[8:])
	styleCount := le.Uint32(chunk[12:])
	flags := le.Uint32(chunk[16:])
	stringsStart := uint64(le.Uint32(chunk[20:]))
	stylesStart := uint64(le.Uint32(chunk[24:]))

	offsetsEnd := uint64(headerSize) + 4*(uint64(count)+uint64(styleCount))
	if offsetsEnd > uint64(len(chunk)) {
		return nil, fmt.Errorf("%w: string pool offsets exceed chunk (%d strings, %d styles)", ErrMalformed, count, styleCount)
	}

	p := &StringPool{
		Flags:   flags,
		strings: make([]string, 0, count),
	}

	pos := uint64(headerSize)
	for i := uint32(0); i < count; i++ {
		start := stringsStart + uint64(le.Uint32(chunk[pos:]))
		pos += 4
		if start >= uint64(len(chunk)) {
			return nil, fmt.Errorf("%w: string %d starts outside of the pool", ErrMalformed, i)
		}

		var s string
		var err error
		if p.isUTF8() {
			s, err = decodeUTF8(chunk[start:])
		} else {
			s, err = decodeUTF16(chunk[start:])
		}
		if err != nil {
			return nil, fmt.Errorf("%w: string %d: %s", ErrMalformed, i, err)
		}
		p.strings = append(p.strings, s)
	}

	if styleCount > 0 {
		p.styleOffsets = make([]uint32, styleCount)
		for i := range p.styleOffsets {
			p.styleOffsets[i] = le.Uint32(chunk[pos:])
			pos += 4
		}
		if stylesStart > uint64(len(chunk)) {
			return nil, fmt.Errorf("%w: style data starts outside of the pool", ErrMalformed)
		}
		p.styleData = append([]byte(nil), chunk[stylesStart:]...)
	}

	return p, nil
}

func decodeUTF16(b []byte) (string, error) {
	if len(b) < 2 {
		return "", fmt.Errorf("truncated length")
	}
	n := uint64(binary.LittleEndian.Uint16(b))
	b = b[2:]
	if n&0x8000 != 0 {
		if len(b) < 2 {
			return "", fmt.Errorf("truncated length")
		}
		n = (n&0x7FFF)<<16 | uint64(binary.LittleEndian.Uint16(b))
		b = b[2:]
	}
	if uint64(len(b)) < 2*n {
		return "", fmt.Errorf("length %d exceeds pool", n)
	}

	units := make([]uint16, n)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return string(utf16.Decode(units)), nil
}

func decodeUTF8(b []byte) (string, error) {
	// the first length counts UTF-16 units and is not needed to read the bytes
	_, b, err := decodeLength8(b)
	if err != nil {
		return "", err
	}
	n, b, err := decodeLength8(b)
	if err != nil {
		return "", err
	}
	if len(b) < n {
		return "", fmt.Errorf("length %d exceeds pool", n)
	}
	return string(b[:n]), nil
}

func decodeLength8(b []byte) (int, []byte, error) {
	if len(b) < 1 {
		return 0, nil, fmt.Errorf("truncated length")
	}
	n := int(b[0])
	if n&0x80 == 0 {
		return n, b[1:], nil
	}
	if len(b) < 2 {
		return 0, nil, fmt.Errorf("truncated length")
	}
	return (n&0x7F)<<8 | int(b[1]), b[2:], nil
}

func (p *StringPool) encode(buf *bytes.Buffer) error {
	var data bytes.Buffer
	offsets := make([]uint32, len(p.strings))
	for i, s := range p.strings {
		offsets[i] = uint32(data.Len())

		var err error
		if p.isUTF8() {
			err = encodeUTF8(&data, s)
		} else {
			err = encodeUTF16(&data, s)
		}
		if err != nil {
			return fmt.Errorf("%w: string %d: %s", ErrEncode, i, err)
		}
	}
	for data.Len()%4 != 0 {
		data.WriteByte(0)
	}

	stringsStart := stringPoolHeaderSize + 4*(len(p.strings)+len(p.styleOffsets))
	size := stringsStart + data.Len()
	stylesStart := 0
	if len(p.styleOffsets) > 0 {
		stylesStart = size
		size += len(p.styleData)
	}

	header := stringPoolHeader{
		Type:         TypeStringPool,
		HeaderSize:   stringPoolHeaderSize,
		Size:         uint32(size),
		StringCount:  uint32(len(p.strings)),
		StyleCount:   uint32(len(p.styleOffsets)),
		Flags:        p.Flags,
		StringsStart: uint32(stringsStart),
		StylesStart:  uint32(stylesStart),
	}
	if err := binary.Write(buf, binary.LittleEndian, &header); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, offsets); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, p.styleOffsets); err != nil {
		return err
	}
	buf.Write(data.Bytes())
	buf.Write(p.styleData)
	return nil
}

func encodeUTF8(w *bytes.Buffer, s string) error {
	units := len(utf16.Encode([]rune(s)))
	if units > maxLength8 || len(s) > maxLength8 {
		return fmt.Errorf("string of %d bytes is too long for an UTF-8 pool", len(s))
	}
	writeLength8(w, units)
	writeLength8(w, len(s))
	w.WriteString(s)
	w.WriteByte(0)
	return nil
}

func writeLength8(w *bytes.Buffer, n int) {
	if n > 0x7F {
		w.WriteByte(byte(n>>8) | 0x80)
	}
	w.WriteByte(byte(n))
}

func encodeUTF16(w *bytes.Buffer, s string) error {
	units := utf16.Encode([]rune(s))
	n := len(units)
	if n > maxLength16 {
		return fmt.Errorf("string of %d units is too long", n)
	}

	le := binary.LittleEndian
	var tmp [2]byte
	put := func(v uint16) {
		le.PutUint16(tmp[:], v)
		w.Write(tmp[:])
	}

	if n > 0x7FFF {
		put(uint16(n>>16) | 0x8000)
	}
	put(uint16(n))
	for _, u := range units {
		put(u)
	}
	put(0)
	return nil
}
