// Package archive rebuilds an APK around a patched AndroidManifest.xml.
//
// Entries are copied with their original compressed bytes. resources.arsc is
// always written uncompressed and 4 byte aligned, legacy (v1) signature files
// are dropped.
//
// Two strategies exist. The full rewrite walks the source entries once and
// emits each of them at most once. The fast merge, used when the source has no
// legacy signature entries, copies the whole source and then appends the
// patched manifest and the realigned resource table again under the same
// names. It relies on APK readers resolving duplicate names to the last
// entry; the full rewrite is the fallback that does not depend on this.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bitrise-io/go-utils/log"
	"github.com/klauspost/compress/zip"
)

// Names of the entries the reassembler treats specially.
const (
	ManifestName      = "AndroidManifest.xml"
	ResourceTableName = "resources.arsc"
)

// ErrManifestNotFound is returned when a manifest edit is requested for an
// APK without AndroidManifest.xml.
var ErrManifestNotFound = errors.New("AndroidManifest.xml not found in the APK")

// ErrSameFile is returned when the output path names the source APK.
var ErrSameFile = errors.New("output is the source APK")

// Strategy is the way the output container was produced.
type Strategy int

// Strategies.
const (
	StrategyFast Strategy = iota + 1
	StrategyFull
)

func (s Strategy) String() string {
	switch s {
	case StrategyFast:
		return "fast merge"
	case StrategyFull:
		return "full rewrite"
	default:
		return "unknown"
	}
}

// ManifestPatcher returns the patched form of the manifest bytes.
type ManifestPatcher func(raw []byte) ([]byte, error)

// Options configure Reassemble.
type Options struct {
	// PatchManifest is applied to AndroidManifest.xml; nil keeps the original.
	PatchManifest ManifestPatcher
	// ForceFullRewrite selects the full rewrite even without legacy signatures.
	ForceFullRewrite bool
	// PageAlignNativeLibs aligns stored lib/**/*.so entries to 4096 bytes.
	PageAlignNativeLibs bool
}

// Result describes a finished reassembly.
type Result struct {
	Strategy        Strategy
	Stripped        []string
	ManifestPatched bool
}

// Reassemble reads the APK at srcPth and writes the rebuilt APK to dstPth,
// replacing any existing file. An aborted run may leave a partial dstPth.
func Reassemble(srcPth, dstPth string, opts Options) (res Result, err error) {
	if srcInfo, err := os.Stat(srcPth); err == nil {
		if dstInfo, err := os.Stat(dstPth); err == nil && os.SameFile(srcInfo, dstInfo) {
			return Result{}, fmt.Errorf("%s: %w", dstPth, ErrSameFile)
		}
	}

	r, err := zip.OpenReader(srcPth)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open %s: %w", srcPth, err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Warnf("Failed to close %s: %s", srcPth, err)
		}
	}()

	out, err := os.Create(dstPth)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create %s: %w", dstPth, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", dstPth, cerr)
		}
	}()

	return ReassembleZip(&r.Reader, out, opts)
}

// ReassembleZip writes the rebuilt form of r to w.
func ReassembleZip(r *zip.Reader, w io.Writer, opts Options) (Result, error) {
	names := make([]string, len(r.File))
	for i, f := range r.File {
		names[i] = f.Name
	}

	if opts.PatchManifest != nil && lastEntry(r, ManifestName) == nil {
		return Result{}, ErrManifestNotFound
	}

	res := Result{Strategy: StrategyFast}
	if len(FilterLegacySignatures(names)) > 0 || opts.ForceFullRewrite {
		res.Strategy = StrategyFull
	}
	log.Debugf("reassembling %d entries using %s", len(r.File), res.Strategy)

	ew := newEntryWriter(w, opts.PageAlignNativeLibs)
	var err error
	if res.Strategy == StrategyFull {
		err = fullRewrite(r, ew, opts, &res)
	} else {
		err = fastMerge(r, ew, opts, &res)
	}
	if err != nil {
		return Result{}, err
	}

	if err := ew.close(); err != nil {
		return Result{}, fmt.Errorf("failed to finish the APK: %w", err)
	}
	return res, nil
}

func lastEntry(r *zip.Reader, name string) *zip.File {
	for i := len(r.File) - 1; i >= 0; i-- {
		if r.File[i].Name == name {
			return r.File[i]
		}
	}
	return nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			log.Warnf("Failed to close %s: %s", f.Name, err)
		}
	}()
	return io.ReadAll(rc)
}

func writePatchedManifest(ew *entryWriter, f *zip.File, patch ManifestPatcher) error {
	raw, err := readEntry(f)
	if err != nil {
		return err
	}
	patched, err := patch(raw)
	if err != nil {
		return err
	}
	return ew.writeDeflated(f, patched)
}

func writeResourceTable(ew *entryWriter, f *zip.File) error {
	data, err := readEntry(f)
	if err != nil {
		return err
	}
	return ew.writeStored(f, data)
}

// fullRewrite emits every source entry once, in source order. When a name
// occurs more than once only its last occurrence is kept.
func fullRewrite(r *zip.Reader, ew *entryWriter, opts Options, res *Result) error {
	last := map[string]int{}
	for i, f := range r.File {
		last[f.Name] = i
	}

	for i, f := range r.File {
		var err error
		switch {
		case last[f.Name] != i:
			log.Debugf("- skipping shadowed entry: %s", describe(f))
			continue
		case IsLegacySignature(f.Name):
			log.Printf("- removing legacy signature: %s", f.Name)
			res.Stripped = append(res.Stripped, f.Name)
			continue
		case f.Name == ResourceTableName:
			err = writeResourceTable(ew, f)
		case f.Name == ManifestName && opts.PatchManifest != nil:
			err = writePatchedManifest(ew, f, opts.PatchManifest)
			res.ManifestPatched = err == nil
		default:
			err = ew.copy(f)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
	}
	return nil
}

// fastMerge copies the source verbatim and then appends a secondary container
// holding the patched manifest and the realigned resource table.
func fastMerge(r *zip.Reader, ew *entryWriter, opts Options, res *Result) error {
	var patch bytes.Buffer
	pw := newEntryWriter(&patch, false)

	if f := lastEntry(r, ManifestName); f != nil && opts.PatchManifest != nil {
		if err := writePatchedManifest(pw, f, opts.PatchManifest); err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
		res.ManifestPatched = true
	}
	if f := lastEntry(r, ResourceTableName); f != nil {
		if err := writeResourceTable(pw, f); err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
	}
	if err := pw.close(); err != nil {
		return fmt.Errorf("failed to finish the patch container: %w", err)
	}

	for _, f := range r.File {
		if err := ew.copy(f); err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
	}

	pr, err := zip.NewReader(bytes.NewReader(patch.Bytes()), int64(patch.Len()))
	if err != nil {
		return fmt.Errorf("failed to read the patch container: %w", err)
	}
	for _, f := range pr.File {
		log.Debugf("- appending %s", describe(f))
		if err := ew.copy(f); err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
	}
	return nil
}
