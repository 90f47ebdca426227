// Package axml decodes and encodes the compiled (binary) XML format used for
// AndroidManifest.xml and other XML resources inside an APK.
//
// A document is read into an ordered list of chunk nodes. Chunks the package
// does not interpret are kept as raw bytes so that Encode reproduces them.
package axml

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPlainText is returned for manifests stored as text XML.
	ErrPlainText = errors.New("xml is in plaintext, binary form expected")
	// ErrMalformed is returned when the bytes are not a compiled XML document.
	ErrMalformed = errors.New("malformed binary xml")
	// ErrEncode is returned when a document cannot be serialized.
	ErrEncode = errors.New("failed to encode binary xml")
)

type chunkHeader struct {
	Type       ChunkType
	HeaderSize uint16
	Size       uint32
}

func readChunkHeader(b []byte) (chunkHeader, error) {
	if len(b) < chunkHeaderSize {
		return chunkHeader{}, fmt.Errorf("%w: truncated chunk header", ErrMalformed)
	}
	h := chunkHeader{
		Type:       ChunkType(binary.LittleEndian.Uint16(b)),
		HeaderSize: binary.LittleEndian.Uint16(b[2:]),
		Size:       binary.LittleEndian.Uint32(b[4:]),
	}
	if h.HeaderSize < chunkHeaderSize || uint32(h.HeaderSize) > h.Size {
		return chunkHeader{}, fmt.Errorf("%w: chunk 0x%04x has header size %d and size %d", ErrMalformed, uint16(h.Type), h.HeaderSize, h.Size)
	}
	if uint64(h.Size) > uint64(len(b)) {
		return chunkHeader{}, fmt.Errorf("%w: chunk 0x%04x of %d bytes exceeds remaining %d", ErrMalformed, uint16(h.Type), h.Size, len(b))
	}
	return h, nil
}

// Decode parses a compiled XML document. The input is not retained.
func Decode(data []byte) (*File, error) {
	if s := string(data[:min(len(data), 6)]); strings.HasPrefix(s, "<?xml ") || strings.HasPrefix(s, "<manif") {
		return nil, ErrPlainText
	}

	top, err := readChunkHeader(data)
	if err != nil {
		return nil, err
	}
	if top.Type != TypeXML {
		return nil, fmt.Errorf("%w: top chunk type 0x%04x, expected 0x%04x", ErrMalformed, uint16(top.Type), uint16(TypeXML))
	}

	f := &File{}
	body := data[top.HeaderSize:top.Size]
	for offset := 0; offset < len(body); {
		h, err := readChunkHeader(body[offset:])
		if err != nil {
			return nil, fmt.Errorf("at 0x%08x: %w", offset+int(top.HeaderSize), err)
		}

		chunk := body[offset : offset+int(h.Size)]
		node, err := decodeChunk(h, chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk 0x%04x at 0x%08x: %w", uint16(h.Type), offset+int(top.HeaderSize), err)
		}
		f.Nodes = append(f.Nodes, node)
		offset += int(h.Size)
	}

	return f, nil
}

func decodeChunk(h chunkHeader, chunk []byte) (Node, error) {
	switch h.Type {
	case TypeStringPool:
		return decodeStringPool(chunk, h.HeaderSize)
	case TypeXMLResourceMap:
		return decodeResourceMap(chunk[h.HeaderSize:])
	case TypeXMLStartNamespace, TypeXMLEndNamespace, TypeXMLStartElement, TypeXMLEndElement, TypeXMLCData:
		if h.HeaderSize < nodeHeaderSize {
			return nil, fmt.Errorf("%w: node header size %d", ErrMalformed, h.HeaderSize)
		}
		hdr := NodeHeader{
			LineNumber: binary.LittleEndian.Uint32(chunk[8:]),
			Comment:    binary.LittleEndian.Uint32(chunk[12:]),
		}
		return decodeTreeNode(h.Type, hdr, chunk[h.HeaderSize:])
	default:
		return &RawChunk{ChunkType: h.Type, Bytes: append([]byte(nil), chunk...)}, nil
	}
}

func decodeResourceMap(body []byte) (*ResourceMap, error) {
	if len(body)%4 != 0 {
		return nil, fmt.Errorf("%w: resource map size %d is not a multiple of 4", ErrMalformed, len(body))
	}
	m := &ResourceMap{IDs: make([]uint32, len(body)/4)}
	for i := range m.IDs {
		m.IDs[i] = binary.LittleEndian.Uint32(body[4*i:])
	}
	return m, nil
}

type namespaceBody struct {
	Prefix uint32
	URI    uint32
}

type elementStart struct {
	Namespace      uint32
	Name           uint32
	AttributeStart uint16
	AttributeSize  uint16
	AttributeCount uint16
	IDIndex        uint16
	ClassIndex     uint16
	StyleIndex     uint16
}

type resAttr struct {
	Namespace uint32
	Name      uint32
	RawValue  uint32
	Value     Value
}

type elementEnd struct {
	Namespace uint32
	Name      uint32
}

type cdataBody struct {
	Data  uint32
	Value Value
}

func decodeTreeNode(t ChunkType, hdr NodeHeader, body []byte) (Node, error) {
	r := bytes.NewReader(body)
	le := binary.LittleEndian

	switch t {
	case TypeXMLStartNamespace, TypeXMLEndNamespace:
		var ns namespaceBody
		if err := binary.Read(r, le, &ns); err != nil {
			return nil, fmt.Errorf("%w: namespace: %s", ErrMalformed, err)
		}
		if t == TypeXMLStartNamespace {
			return &StartNamespace{NodeHeader: hdr, Prefix: ns.Prefix, URI: ns.URI}, nil
		}
		return &EndNamespace{NodeHeader: hdr, Prefix: ns.Prefix, URI: ns.URI}, nil
	case TypeXMLStartElement:
		return decodeStartElement(hdr, body)
	case TypeXMLEndElement:
		var end elementEnd
		if err := binary.Read(r, le, &end); err != nil {
			return nil, fmt.Errorf("%w: end element: %s", ErrMalformed, err)
		}
		return &EndElement{NodeHeader: hdr, Namespace: end.Namespace, Name: end.Name}, nil
	default:
		var cdata cdataBody
		if err := binary.Read(r, le, &cdata); err != nil {
			return nil, fmt.Errorf("%w: cdata: %s", ErrMalformed, err)
		}
		return &CData{NodeHeader: hdr, Data: cdata.Data, Value: cdata.Value}, nil
	}
}

func decodeStartElement(hdr NodeHeader, body []byte) (*StartElement, error) {
	var start elementStart
	if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, &start); err != nil {
		return nil, fmt.Errorf("%w: start element: %s", ErrMalformed, err)
	}
	if start.AttributeCount > 0 && start.AttributeSize < attributeSize {
		return nil, fmt.Errorf("%w: attribute size %d", ErrMalformed, start.AttributeSize)
	}

	el := &StartElement{
		NodeHeader: hdr,
		Namespace:  start.Namespace,
		Name:       start.Name,
		IDIndex:    start.IDIndex,
		ClassIndex: start.ClassIndex,
		StyleIndex: start.StyleIndex,
		Attributes: make([]Attribute, 0, start.AttributeCount),
	}

	for i := 0; i < int(start.AttributeCount); i++ {
		pos := int(start.AttributeStart) + i*int(start.AttributeSize)
		if pos+attributeSize > len(body) {
			return nil, fmt.Errorf("%w: attribute %d exceeds element", ErrMalformed, i)
		}

		var attr resAttr
		if err := binary.Read(bytes.NewReader(body[pos:pos+attributeSize]), binary.LittleEndian, &attr); err != nil {
			return nil, fmt.Errorf("%w: attribute %d: %s", ErrMalformed, i, err)
		}
		el.Attributes = append(el.Attributes, Attribute(attr))
	}

	return el, nil
}
