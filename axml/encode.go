package axml

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Encode serializes the document. Start elements are written with the
// canonical 20 byte attribute layout.
func (f *File) Encode() ([]byte, error) {
	var body bytes.Buffer
	for i, node := range f.Nodes {
		if err := encodeNode(&body, node); err != nil {
			return nil, fmt.Errorf("node %d (0x%04x): %w", i, uint16(node.Type()), err)
		}
	}

	size := uint64(chunkHeaderSize) + uint64(body.Len())
	if size > maxUint32 {
		return nil, fmt.Errorf("%w: document of %d bytes", ErrEncode, size)
	}

	var out bytes.Buffer
	out.Grow(int(size))
	if err := binary.Write(&out, binary.LittleEndian, chunkHeader{Type: TypeXML, HeaderSize: chunkHeaderSize, Size: uint32(size)}); err != nil {
		return nil, err
	}
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func encodeNode(buf *bytes.Buffer, node Node) error {
	switch n := node.(type) {
	case *StringPool:
		return n.encode(buf)
	case *ResourceMap:
		return writeChunk(buf, TypeXMLResourceMap, chunkHeaderSize, nil, n.IDs)
	case *StartNamespace:
		return writeTreeNode(buf, TypeXMLStartNamespace, n.NodeHeader, namespaceBody{Prefix: n.Prefix, URI: n.URI})
	case *EndNamespace:
		return writeTreeNode(buf, TypeXMLEndNamespace, n.NodeHeader, namespaceBody{Prefix: n.Prefix, URI: n.URI})
	case *StartElement:
		if len(n.Attributes) > 0xFFFF {
			return fmt.Errorf("%w: %d attributes", ErrEncode, len(n.Attributes))
		}
		attrs := make([]resAttr, len(n.Attributes))
		for i, a := range n.Attributes {
			attrs[i] = resAttr(a)
		}
		start := elementStart{
			Namespace:      n.Namespace,
			Name:           n.Name,
			AttributeStart: elementStartSize,
			AttributeSize:  attributeSize,
			AttributeCount: uint16(len(n.Attributes)),
			IDIndex:        n.IDIndex,
			ClassIndex:     n.ClassIndex,
			StyleIndex:     n.StyleIndex,
		}
		return writeTreeNode(buf, TypeXMLStartElement, n.NodeHeader, start, attrs)
	case *EndElement:
		return writeTreeNode(buf, TypeXMLEndElement, n.NodeHeader, elementEnd{Namespace: n.Namespace, Name: n.Name})
	case *CData:
		return writeTreeNode(buf, TypeXMLCData, n.NodeHeader, cdataBody{Data: n.Data, Value: n.Value})
	case *RawChunk:
		buf.Write(n.Bytes)
		return nil
	default:
		return fmt.Errorf("%w: unsupported node %T", ErrEncode, node)
	}
}

func writeTreeNode(buf *bytes.Buffer, t ChunkType, hdr NodeHeader, parts ...interface{}) error {
	return writeChunk(buf, t, nodeHeaderSize, &hdr, parts...)
}

// writeChunk writes a chunk header followed by the extended header (if any)
// and the body parts, each encoded with encoding/binary.
func writeChunk(buf *bytes.Buffer, t ChunkType, headerSize uint16, ext interface{}, parts ...interface{}) error {
	var payload bytes.Buffer
	if ext != nil {
		if err := binary.Write(&payload, binary.LittleEndian, ext); err != nil {
			return err
		}
	}
	for _, p := range parts {
		if err := binary.Write(&payload, binary.LittleEndian, p); err != nil {
			return err
		}
	}

	h := chunkHeader{
		Type:       t,
		HeaderSize: headerSize,
		Size:       uint32(chunkHeaderSize + payload.Len()),
	}
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return err
	}
	buf.Write(payload.Bytes())
	return nil
}
