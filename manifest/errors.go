package manifest

import (
	"errors"
	"fmt"

	"github.com/bitrise-steplib/steps-apk-patcher/axml"
)

var (
	// ErrDecode is returned when the manifest bytes are not a compiled XML document.
	ErrDecode = errors.New("failed to decode AndroidManifest.xml")
	// ErrStructure is returned when the document does not start with a string pool.
	ErrStructure = errors.New("AndroidManifest.xml does not start with a string pool")
	// ErrEncode is returned when the edited document cannot be serialized.
	ErrEncode = errors.New("failed to encode AndroidManifest.xml")
	// ErrNoPackageValue is returned when the package attribute holds no string.
	ErrNoPackageValue = errors.New("there is no package name in AndroidManifest.xml")
)

// MissingElementError reports a required element that is not in the document.
type MissingElementError struct {
	Element string
}

func (e *MissingElementError) Error() string {
	return fmt.Sprintf("xml element is missing: %s", e.Element)
}

// MissingAttributeError reports a required attribute that is not on its element.
type MissingAttributeError struct {
	Element   string
	Attribute string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("attribute %s not found in element %s", e.Attribute, e.Element)
}

// UnknownValueTypeError reports an attribute whose typed value tag is not recognized.
type UnknownValueTypeError struct {
	Element   string
	Attribute string
	Type      axml.ValueType
}

func (e *UnknownValueTypeError) Error() string {
	return fmt.Sprintf("type of %s value in element %s is unknown: %s", e.Attribute, e.Element, e.Type)
}
