// Package manifest edits the package name and the displayed application name
// of a compiled AndroidManifest.xml.
//
// All edits go through the document's string pool. Indices that exist before
// the edit keep their meaning: a string valued attribute is changed by
// overwriting its pool slot, any other attribute is pointed at a newly
// appended string.
package manifest

import (
	"fmt"
	"strings"

	"github.com/bitrise-io/go-utils/log"
	"github.com/bitrise-steplib/steps-apk-patcher/axml"
)

const (
	elementManifest    = "manifest"
	elementApplication = "application"
	elementActivity    = "activity"
	elementProvider    = "provider"

	attributePackage     = "package"
	attributeLabel       = "label"
	attributeAuthorities = "authorities"
)

// Patch lists the requested edits. Nil fields are not applied, an empty
// string is applied as is.
type Patch struct {
	PackageName *string
	AppName     *string
}

// IsEmpty reports whether the patch requests no edit at all.
func (p Patch) IsEmpty() bool {
	return p.PackageName == nil && p.AppName == nil
}

// Edit decodes raw, applies p and returns the re-encoded document. raw is not
// modified.
func Edit(raw []byte, p Patch) ([]byte, error) {
	f, err := axml.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if len(f.Nodes) == 0 {
		return nil, fmt.Errorf("%w: document is empty", ErrStructure)
	}
	pool, ok := f.Nodes[0].(*axml.StringPool)
	if !ok {
		return nil, fmt.Errorf("%w: first chunk is 0x%04x", ErrStructure, uint16(f.Nodes[0].Type()))
	}

	e := &editor{pool: pool, nodes: f.Nodes[1:]}

	if p.PackageName != nil {
		if err := e.renamePackage(*p.PackageName); err != nil {
			return nil, err
		}
	}

	if p.AppName != nil {
		if err := e.relabel(*p.AppName); err != nil {
			return nil, err
		}
	}

	out, err := f.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return out, nil
}

type editor struct {
	pool  *axml.StringPool
	nodes []axml.Node
}

func (e *editor) hasName(idx uint32, name string) bool {
	s, ok := e.pool.Get(idx)
	return ok && s == name
}

func (e *editor) elements(name string) []*axml.StartElement {
	var els []*axml.StartElement
	for _, n := range e.nodes {
		if el, ok := n.(*axml.StartElement); ok && e.hasName(el.Name, name) {
			els = append(els, el)
		}
	}
	return els
}

func (e *editor) element(name string) *axml.StartElement {
	for _, n := range e.nodes {
		if el, ok := n.(*axml.StartElement); ok && e.hasName(el.Name, name) {
			return el
		}
	}
	return nil
}

func (e *editor) attribute(el *axml.StartElement, name string) *axml.Attribute {
	for i := range el.Attributes {
		if e.hasName(el.Attributes[i].Name, name) {
			return &el.Attributes[i]
		}
	}
	return nil
}

// setString stores value in attr. A string valued attribute has its pool slot
// overwritten and the previous string is returned; any other attribute is
// rewritten to reference a new pool entry.
func (e *editor) setString(element, name string, attr *axml.Attribute, value string) (string, bool, error) {
	if !attr.Value.Type.Known() {
		return "", false, &UnknownValueTypeError{Element: element, Attribute: name, Type: attr.Value.Type}
	}

	if idx, ok := attr.StringRef(); ok {
		old, ok := e.pool.Set(idx, value)
		if !ok {
			return "", false, fmt.Errorf("%w: %s of %s references string %d, pool has %d", ErrDecode, name, element, idx, e.pool.Len())
		}
		return old, true, nil
	}

	attr.SetStringRef(e.pool.Append(value))
	return "", false, nil
}

func (e *editor) renamePackage(pkg string) error {
	el := e.element(elementManifest)
	if el == nil {
		return &MissingElementError{Element: elementManifest}
	}
	attr := e.attribute(el, attributePackage)
	if attr == nil {
		return &MissingAttributeError{Element: elementManifest, Attribute: attributePackage}
	}

	old, ok, err := e.setString(elementManifest, attributePackage, attr, pkg)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoPackageValue
	}
	log.Printf("package: %s -> %s", old, pkg)

	pkgIdx, _ := attr.StringRef()
	e.fixAuthorities(old, pkg, pkgIdx)
	return nil
}

// fixAuthorities rewrites provider authorities that start with the old package
// name so the renamed app does not clash with the original one. Each pool
// slot is rewritten at most once, the package slot itself never.
func (e *editor) fixAuthorities(oldPkg, newPkg string, pkgIdx uint32) {
	if oldPkg == "" {
		return
	}

	done := map[uint32]bool{pkgIdx: true}
	for _, el := range e.elements(elementProvider) {
		attr := e.attribute(el, attributeAuthorities)
		if attr == nil {
			continue
		}
		idx, ok := attr.StringRef()
		if !ok || done[idx] {
			continue
		}
		authorities, ok := e.pool.Get(idx)
		if !ok || !strings.HasPrefix(authorities, oldPkg) {
			continue
		}

		renamed := newPkg + strings.TrimPrefix(authorities, oldPkg)
		e.pool.Set(idx, renamed)
		done[idx] = true
		log.Printf("provider authorities: %s -> %s", authorities, renamed)
	}
}

// relabel sets the label of the first application and the first activity
// element. Elements or labels that are not present are skipped.
func (e *editor) relabel(name string) error {
	for _, element := range []string{elementApplication, elementActivity} {
		el := e.element(element)
		if el == nil {
			log.Debugf("no %s element, label not changed", element)
			continue
		}
		attr := e.attribute(el, attributeLabel)
		if attr == nil {
			log.Debugf("%s has no label attribute, label not changed", element)
			continue
		}

		old, ok, err := e.setString(element, attributeLabel, attr, name)
		if err != nil {
			return err
		}
		if ok {
			log.Printf("%s label: %s -> %s", element, old, name)
		} else {
			log.Printf("%s label: set to %s", element, name)
		}
	}
	return nil
}
