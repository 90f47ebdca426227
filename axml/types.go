package axml

import "fmt"

// ChunkType is the 16 bit type tag of a resource chunk header.
type ChunkType uint16

// Chunk types found in compiled XML documents.
const (
	TypeStringPool        ChunkType = 0x0001
	TypeXML               ChunkType = 0x0003
	TypeXMLStartNamespace ChunkType = 0x0100
	TypeXMLEndNamespace   ChunkType = 0x0101
	TypeXMLStartElement   ChunkType = 0x0102
	TypeXMLEndElement     ChunkType = 0x0103
	TypeXMLCData          ChunkType = 0x0104
	TypeXMLResourceMap    ChunkType = 0x0180
)

const (
	chunkHeaderSize      = 8
	nodeHeaderSize       = 16
	attributeSize        = 20
	typedValueSize       = 8
	elementStartSize     = 20
	stringPoolHeaderSize = 28
	maxUint32            = 0xFFFFFFFF
)

// NoEntry marks an absent string reference (namespace, comment, raw value).
const NoEntry uint32 = maxUint32

// ValueType is the data type tag of a typed resource value.
type ValueType uint8

// Recognized value types. The set is closed: anything else is reported as unknown.
const (
	ValueNull             ValueType = 0x00
	ValueReference        ValueType = 0x01
	ValueAttribute        ValueType = 0x02
	ValueString           ValueType = 0x03
	ValueFloat            ValueType = 0x04
	ValueDimension        ValueType = 0x05
	ValueFraction         ValueType = 0x06
	ValueDynamicReference ValueType = 0x07
	ValueDynamicAttribute ValueType = 0x08
	ValueIntDec           ValueType = 0x10
	ValueIntHex           ValueType = 0x11
	ValueIntBoolean       ValueType = 0x12
	ValueColorARGB8       ValueType = 0x1c
	ValueColorRGB8        ValueType = 0x1d
	ValueColorARGB4       ValueType = 0x1e
	ValueColorRGB4        ValueType = 0x1f
)

var valueTypeNames = map[ValueType]string{
	ValueNull:             "null",
	ValueReference:        "reference",
	ValueAttribute:        "attribute",
	ValueString:           "string",
	ValueFloat:            "float",
	ValueDimension:        "dimension",
	ValueFraction:         "fraction",
	ValueDynamicReference: "dynamic-reference",
	ValueDynamicAttribute: "dynamic-attribute",
	ValueIntDec:           "int-dec",
	ValueIntHex:           "int-hex",
	ValueIntBoolean:       "int-boolean",
	ValueColorARGB8:       "color-argb8",
	ValueColorRGB8:        "color-rgb8",
	ValueColorARGB4:       "color-argb4",
	ValueColorRGB4:        "color-rgb4",
}

// Known reports whether t is one of the recognized value types.
func (t ValueType) Known() bool {
	_, ok := valueTypeNames[t]
	return ok
}

func (t ValueType) String() string {
	if name, ok := valueTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", uint8(t))
}

// Value is a typed resource value (Res_value).
type Value struct {
	Size uint16
	Res0 uint8
	Type ValueType
	Data uint32
}

// Attribute is one attribute of a start element. Name and Namespace index the
// string pool; a string typed Value stores its pool index in Data and mirrors
// it in RawValue.
type Attribute struct {
	Namespace uint32
	Name      uint32
	RawValue  uint32
	Value     Value
}

// StringRef returns the pool index of a string valued attribute.
func (a *Attribute) StringRef() (uint32, bool) {
	if a.Value.Type != ValueString {
		return 0, false
	}
	return a.Value.Data, true
}

// SetStringRef turns the attribute into a string value pointing at idx.
func (a *Attribute) SetStringRef(idx uint32) {
	a.Value = Value{Size: typedValueSize, Type: ValueString, Data: idx}
	a.RawValue = idx
}

// Node is one chunk in the body of a compiled XML document.
type Node interface {
	Type() ChunkType
}

// NodeHeader is the line number and comment shared by all XML tree nodes.
type NodeHeader struct {
	LineNumber uint32
	Comment    uint32
}

// ResourceMap maps the first len(IDs) pool strings to attribute resource ids.
type ResourceMap struct {
	IDs []uint32
}

// StartNamespace opens a namespace prefix mapping.
type StartNamespace struct {
	NodeHeader
	Prefix uint32
	URI    uint32
}

// EndNamespace closes a namespace prefix mapping.
type EndNamespace struct {
	NodeHeader
	Prefix uint32
	URI    uint32
}

// StartElement opens an element.
type StartElement struct {
	NodeHeader
	Namespace  uint32
	Name       uint32
	IDIndex    uint16
	ClassIndex uint16
	StyleIndex uint16
	Attributes []Attribute
}

// EndElement closes an element.
type EndElement struct {
	NodeHeader
	Namespace uint32
	Name      uint32
}

// CData is character data between elements.
type CData struct {
	NodeHeader
	Data  uint32
	Value Value
}

// RawChunk is a chunk the codec does not interpret; it is re-emitted verbatim.
type RawChunk struct {
	ChunkType ChunkType
	Bytes     []byte
}

func (*StringPool) Type() ChunkType     { return TypeStringPool }
func (*ResourceMap) Type() ChunkType    { return TypeXMLResourceMap }
func (*StartNamespace) Type() ChunkType { return TypeXMLStartNamespace }
func (*EndNamespace) Type() ChunkType   { return TypeXMLEndNamespace }
func (*StartElement) Type() ChunkType   { return TypeXMLStartElement }
func (*EndElement) Type() ChunkType     { return TypeXMLEndElement }
func (*CData) Type() ChunkType          { return TypeXMLCData }
func (c *RawChunk) Type() ChunkType     { return c.ChunkType }

// File is a decoded compiled XML document: the ordered chunk list found inside
// the top level XML chunk.
type File struct {
	Nodes []Node
}
