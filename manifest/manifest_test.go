package manifest

import (
	"bytes"
	"errors"
	"testing"

	"github.com/bitrise-steplib/steps-apk-patcher/axml"
	"github.com/stretchr/testify/require"
)

const androidNS = "http://schemas.android.com/apk/res/android"

func ptr(s string) *string { return &s }

type testAttr struct {
	name string
	str  string
	typ  axml.ValueType
	data uint32
}

func str(name, value string) testAttr {
	return testAttr{name: name, str: value, typ: axml.ValueString}
}

func prim(name string, typ axml.ValueType, data uint32) testAttr {
	return testAttr{name: name, typ: typ, data: data}
}

type testElement struct {
	name  string
	attrs []testAttr
}

func el(name string, attrs ...testAttr) testElement {
	return testElement{name: name, attrs: attrs}
}

// buildManifest encodes a document whose first element wraps all the others.
// Equal strings share one pool index, the way aapt writes them.
func buildManifest(t *testing.T, elements ...testElement) []byte {
	pool := axml.NewStringPool(axml.UTF8Flag)
	interned := map[string]uint32{}
	intern := func(s string) uint32 {
		if idx, ok := interned[s]; ok {
			return idx
		}
		idx := pool.Append(s)
		interned[s] = idx
		return idx
	}

	hdr := axml.NodeHeader{LineNumber: 1, Comment: axml.NoEntry}
	ns := intern(androidNS)
	start := func(e testElement) *axml.StartElement {
		se := &axml.StartElement{NodeHeader: hdr, Namespace: axml.NoEntry, Name: intern(e.name)}
		for _, a := range e.attrs {
			attr := axml.Attribute{Namespace: ns, Name: intern(a.name), RawValue: axml.NoEntry}
			if a.name == "package" {
				attr.Namespace = axml.NoEntry
			}
			if a.typ == axml.ValueString {
				attr.SetStringRef(intern(a.str))
			} else {
				attr.Value = axml.Value{Size: 8, Type: a.typ, Data: a.data}
			}
			se.Attributes = append(se.Attributes, attr)
		}
		return se
	}
	end := func(e testElement) *axml.EndElement {
		return &axml.EndElement{NodeHeader: hdr, Namespace: axml.NoEntry, Name: intern(e.name)}
	}

	nodes := []axml.Node{pool, &axml.StartNamespace{NodeHeader: hdr, Prefix: intern("android"), URI: ns}}
	if len(elements) > 0 {
		nodes = append(nodes, start(elements[0]))
		for _, e := range elements[1:] {
			nodes = append(nodes, start(e), end(e))
		}
		nodes = append(nodes, end(elements[0]))
	}
	nodes = append(nodes, &axml.EndNamespace{NodeHeader: hdr, Prefix: intern("android"), URI: ns})

	data, err := (&axml.File{Nodes: nodes}).Encode()
	require.NoError(t, err)
	return data
}

type decoded struct {
	pool     *axml.StringPool
	elements []*axml.StartElement
}

func decode(t *testing.T, data []byte) decoded {
	f, err := axml.Decode(data)
	require.NoError(t, err)
	d := decoded{pool: f.Nodes[0].(*axml.StringPool)}
	for _, n := range f.Nodes {
		if se, ok := n.(*axml.StartElement); ok {
			d.elements = append(d.elements, se)
		}
	}
	return d
}

// value returns the string of the named attribute of the i-th element.
func (d decoded) value(t *testing.T, i int, name string) string {
	for _, a := range d.elements[i].Attributes {
		if n, _ := d.pool.Get(a.Name); n != name {
			continue
		}
		idx, ok := a.StringRef()
		require.True(t, ok, "attribute %s is not a string", name)
		require.Equal(t, idx, a.RawValue)
		s, ok := d.pool.Get(idx)
		require.True(t, ok)
		return s
	}
	t.Fatalf("attribute %s not found", name)
	return ""
}

func sampleManifest(t *testing.T) []byte {
	return buildManifest(t,
		el("manifest", str("package", "com.old.app"), prim("versionCode", axml.ValueIntDec, 12)),
		el("uses-permission", str("name", "android.permission.INTERNET")),
		el("application", str("label", "Old App"), prim("debuggable", axml.ValueIntBoolean, 0xFFFFFFFF)),
		el("activity", str("name", "com.old.app.MainActivity"), prim("label", axml.ValueReference, 0x7f0e001b)),
		el("provider", str("name", "androidx.core.content.FileProvider"), str("authorities", "com.old.app.FileProvider")),
		el("provider", str("name", "com.other.Provider"), str("authorities", "com.other.app.X")),
	)
}

func TestEditNoop(t *testing.T) {
	raw := sampleManifest(t)
	out, err := Edit(raw, Patch{})
	require.NoError(t, err)

	before, err := axml.Decode(raw)
	require.NoError(t, err)
	after, err := axml.Decode(out)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestEditPackageName(t *testing.T) {
	raw := sampleManifest(t)
	original := append([]byte(nil), raw...)

	out, err := Edit(raw, Patch{PackageName: ptr("com.new.app")})
	require.NoError(t, err)
	require.Equal(t, original, raw)

	before := decode(t, raw)
	d := decode(t, out)
	require.Equal(t, before.pool.Len(), d.pool.Len())
	require.Equal(t, "com.new.app", d.value(t, 0, "package"))
	require.Equal(t, "com.new.app.FileProvider", d.value(t, 4, "authorities"))
	require.Equal(t, "com.other.app.X", d.value(t, 5, "authorities"))

	t.Log("unrelated strings keep their value")
	{
		require.Equal(t, "android.permission.INTERNET", d.value(t, 1, "name"))
		require.Equal(t, "com.old.app.MainActivity", d.value(t, 3, "name"))
		require.Equal(t, "Old App", d.value(t, 2, "label"))
	}
}

func TestEditPackageNameSharedAuthorities(t *testing.T) {
	raw := buildManifest(t,
		el("manifest", str("package", "com.old")),
		el("provider", str("authorities", "com.old.files")),
		el("provider", str("authorities", "com.old.files")),
		el("provider", str("authorities", "com.old")),
	)

	out, err := Edit(raw, Patch{PackageName: ptr("com.old.beta")})
	require.NoError(t, err)

	d := decode(t, out)
	require.Equal(t, "com.old.beta", d.value(t, 0, "package"))
	require.Equal(t, "com.old.beta.files", d.value(t, 1, "authorities"))
	require.Equal(t, "com.old.beta.files", d.value(t, 2, "authorities"))
	require.Equal(t, "com.old.beta", d.value(t, 3, "authorities"))
}

func TestEditAppName(t *testing.T) {
	raw := sampleManifest(t)
	before := decode(t, raw)

	out, err := Edit(raw, Patch{AppName: ptr("New App ✓")})
	require.NoError(t, err)

	d := decode(t, out)
	require.Equal(t, "New App ✓", d.value(t, 2, "label"))
	require.Equal(t, "New App ✓", d.value(t, 3, "label"))

	t.Log("the reference typed activity label got a new pool entry")
	{
		require.Equal(t, before.pool.Len()+1, d.pool.Len())
		for _, a := range d.elements[3].Attributes {
			if n, _ := d.pool.Get(a.Name); n == "label" {
				require.Equal(t, uint32(before.pool.Len()), a.RawValue)
				require.Equal(t, axml.Value{Size: 8, Type: axml.ValueString, Data: uint32(before.pool.Len())}, a.Value)
			}
		}
	}

	t.Log("package name is untouched")
	{
		require.Equal(t, "com.old.app", d.value(t, 0, "package"))
	}
}

func TestEditAppNameMissingLabels(t *testing.T) {
	t.Log("activity without label")
	{
		raw := buildManifest(t,
			el("manifest", str("package", "com.old.app")),
			el("application", str("label", "Old")),
			el("activity", str("name", ".Main")),
		)
		out, err := Edit(raw, Patch{AppName: ptr("New")})
		require.NoError(t, err)
		require.Equal(t, "New", decode(t, out).value(t, 1, "label"))
	}

	t.Log("no application and no activity")
	{
		raw := buildManifest(t, el("manifest", str("package", "com.old.app")))
		out, err := Edit(raw, Patch{AppName: ptr("New")})
		require.NoError(t, err)
		require.Equal(t, decode(t, raw).pool.Strings(), decode(t, out).pool.Strings())
	}
}

func TestEditAppNameEmpty(t *testing.T) {
	out, err := Edit(sampleManifest(t), Patch{AppName: ptr("")})
	require.NoError(t, err)

	d := decode(t, out)
	require.Equal(t, "", d.value(t, 2, "label"))
	require.Equal(t, "", d.value(t, 3, "label"))
}

func TestEditBoth(t *testing.T) {
	out, err := Edit(sampleManifest(t), Patch{PackageName: ptr("com.new.app"), AppName: ptr("New")})
	require.NoError(t, err)

	d := decode(t, out)
	require.Equal(t, "com.new.app", d.value(t, 0, "package"))
	require.Equal(t, "New", d.value(t, 2, "label"))
	require.Equal(t, "New", d.value(t, 3, "label"))
	require.Equal(t, "com.new.app.FileProvider", d.value(t, 4, "authorities"))
}

func TestEditErrors(t *testing.T) {
	t.Log("not a binary xml document")
	{
		_, err := Edit([]byte("garbage!"), Patch{PackageName: ptr("com.new")})
		require.True(t, errors.Is(err, ErrDecode))
	}

	t.Log("plain text manifest")
	{
		_, err := Edit([]byte(`<?xml version="1.0"?><manifest package="a"/>`), Patch{})
		require.True(t, errors.Is(err, ErrDecode))
		require.True(t, errors.Is(err, axml.ErrPlainText))
	}

	t.Log("document without a leading string pool")
	{
		data, err := (&axml.File{Nodes: []axml.Node{&axml.ResourceMap{IDs: []uint32{1}}, axml.NewStringPool(0, "manifest")}}).Encode()
		require.NoError(t, err)
		_, err = Edit(data, Patch{})
		require.True(t, errors.Is(err, ErrStructure))
	}

	t.Log("missing manifest element")
	{
		raw := buildManifest(t, el("application", str("label", "x")))
		_, err := Edit(raw, Patch{PackageName: ptr("com.new")})
		var missing *MissingElementError
		require.True(t, errors.As(err, &missing))
		require.Equal(t, "manifest", missing.Element)
	}

	t.Log("missing package attribute")
	{
		raw := buildManifest(t, el("manifest", prim("versionCode", axml.ValueIntDec, 1)))
		_, err := Edit(raw, Patch{PackageName: ptr("com.new")})
		var missing *MissingAttributeError
		require.True(t, errors.As(err, &missing))
		require.Equal(t, "package", missing.Attribute)
		require.Equal(t, "manifest", missing.Element)
	}

	t.Log("package attribute without a string value")
	{
		raw := buildManifest(t, el("manifest", prim("package", axml.ValueReference, 0x7f010000)))
		_, err := Edit(raw, Patch{PackageName: ptr("com.new")})
		require.True(t, errors.Is(err, ErrNoPackageValue))
	}

	t.Log("label with an unknown value type")
	{
		raw := buildManifest(t,
			el("manifest", str("package", "com.old.app")),
			el("application", prim("label", axml.ValueType(0x09), 0)),
		)
		_, err := Edit(raw, Patch{AppName: ptr("New")})
		var unknown *UnknownValueTypeError
		require.True(t, errors.As(err, &unknown))
		require.Equal(t, "application", unknown.Element)
		require.Equal(t, axml.ValueType(0x09), unknown.Type)
	}

	t.Log("missing package edit does not require a manifest element for labels")
	{
		raw := buildManifest(t, el("application", str("label", "x")))
		out, err := Edit(raw, Patch{AppName: ptr("y")})
		require.NoError(t, err)
		require.False(t, bytes.Equal(raw, out))
	}
}

func TestPatchIsEmpty(t *testing.T) {
	require.True(t, Patch{}.IsEmpty())
	require.False(t, Patch{AppName: ptr("a")}.IsEmpty())
	require.False(t, Patch{PackageName: ptr("a")}.IsEmpty())
	require.False(t, Patch{AppName: ptr("")}.IsEmpty())
}
