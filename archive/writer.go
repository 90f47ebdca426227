package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

const (
	localFileHeaderLen = 30
	alignmentExtraID   = 0xd935
	alignmentExtraLen  = 6
	dataDescriptorFlag = 0x8

	defaultAlignment = 4
	pageAlignment    = 4096
)

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// entryWriter writes every entry with CreateRaw and without a data
// descriptor, so that the offset of the next local header is always known
// after a Flush. Stored entries get their data aligned through the 0xd935
// extra field.
type entryWriter struct {
	zw            *zip.Writer
	cw            *countWriter
	pageAlignLibs bool
}

func newEntryWriter(w io.Writer, pageAlignLibs bool) *entryWriter {
	cw := &countWriter{w: w}
	return &entryWriter{
		zw:            zip.NewWriter(cw),
		cw:            cw,
		pageAlignLibs: pageAlignLibs,
	}
}

func (w *entryWriter) alignment(name string) int64 {
	if w.pageAlignLibs && strings.HasPrefix(name, "lib/") && strings.HasSuffix(name, ".so") {
		return pageAlignment
	}
	return defaultAlignment
}

func (w *entryWriter) create(fh *zip.FileHeader) (io.Writer, error) {
	fh.Flags &^= dataDescriptorFlag
	if fh.Method != zip.Store {
		return w.zw.CreateRaw(fh)
	}

	if err := w.zw.Flush(); err != nil {
		return nil, err
	}
	extraStart := w.cw.n + localFileHeaderLen + int64(len(fh.Name))
	fh.Extra = alignExtra(stripAlignment(fh.Extra), extraStart, w.alignment(fh.Name))
	return w.zw.CreateRaw(fh)
}

// copy writes f with its original compressed bytes.
func (w *entryWriter) copy(f *zip.File) error {
	raw, err := f.OpenRaw()
	if err != nil {
		return err
	}

	fh := f.FileHeader
	dst, err := w.create(&fh)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, raw)
	return err
}

// writeStored writes data uncompressed under the metadata of f.
func (w *entryWriter) writeStored(f *zip.File, data []byte) error {
	fh := f.FileHeader
	fh.Method = zip.Store
	fh.CRC32 = crc32.ChecksumIEEE(data)
	fh.CompressedSize64 = uint64(len(data))
	fh.UncompressedSize64 = uint64(len(data))

	dst, err := w.create(&fh)
	if err != nil {
		return err
	}
	_, err = dst.Write(data)
	return err
}

// writeDeflated writes data deflated under the metadata of f.
func (w *entryWriter) writeDeflated(f *zip.File, data []byte) error {
	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := fw.Close(); err != nil {
		return err
	}

	fh := f.FileHeader
	fh.Method = zip.Deflate
	fh.Extra = stripAlignment(fh.Extra)
	fh.CRC32 = crc32.ChecksumIEEE(data)
	fh.CompressedSize64 = uint64(compressed.Len())
	fh.UncompressedSize64 = uint64(len(data))

	dst, err := w.create(&fh)
	if err != nil {
		return err
	}
	_, err = dst.Write(compressed.Bytes())
	return err
}

func (w *entryWriter) close() error {
	return w.zw.Close()
}

// stripAlignment drops alignment records and zero padding from an extra field.
func stripAlignment(extra []byte) []byte {
	var kept []byte
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra)
		size := int(binary.LittleEndian.Uint16(extra[2:]))
		if 4+size > len(extra) {
			break
		}
		if id != alignmentExtraID && id != 0 {
			kept = append(kept, extra[:4+size]...)
		}
		extra = extra[4+size:]
	}
	return kept
}

// alignExtra appends an alignment record to extra so that entry data, which
// follows the extra field starting at extraStart, lands on a multiple of align.
func alignExtra(extra []byte, extraStart, align int64) []byte {
	end := extraStart + int64(len(extra)) + alignmentExtraLen
	pad := (align - end%align) % align

	record := make([]byte, alignmentExtraLen+pad)
	binary.LittleEndian.PutUint16(record, alignmentExtraID)
	binary.LittleEndian.PutUint16(record[2:], uint16(2+pad))
	binary.LittleEndian.PutUint16(record[4:], uint16(align))
	return append(append([]byte(nil), extra...), record...)
}

func describe(f *zip.File) string {
	return fmt.Sprintf("%s (method %d, %d bytes)", f.Name, f.Method, f.UncompressedSize64)
}
