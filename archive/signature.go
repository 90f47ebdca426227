package archive

import (
	"path"
	"strings"
)

const signatureDir = "META-INF/"

var legacySignatureExts = []string{".sf", ".rsa", ".dsa", ".ec"}

// IsLegacySignature reports whether name is a JAR (v1) signature file or
// signature block under META-INF/.
func IsLegacySignature(name string) bool {
	if !strings.HasPrefix(name, signatureDir) {
		return false
	}
	ext := path.Ext(name)
	for _, signExt := range legacySignatureExts {
		if strings.EqualFold(ext, signExt) {
			return true
		}
	}
	return false
}

// FilterLegacySignatures returns the names that are legacy signature entries,
// in their original order.
func FilterLegacySignatures(names []string) []string {
	var signatures []string
	for _, name := range names {
		if IsLegacySignature(name) {
			signatures = append(signatures, name)
		}
	}
	return signatures
}
