package keystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const keytoolListOutput = `Alias name: androiddebugkey
Creation date: Mar 3, 2021
Entry type: PrivateKeyEntry
Certificate chain length: 1
Certificate[1]:
Owner: C=US, O=Android, CN=Android Debug
Issuer: C=US, O=Android, CN=Android Debug
Serial number: 1
Valid from: Wed Mar 03 10:00:00 CET 2021 until: Fri Feb 24 10:00:00 CET 2051
Certificate fingerprints:
	 SHA1: 7B:7F:8E:45:3C:84:76:F3:0A:36:39:54:43:D9:61:49:B8:F2:0A:0E
	 SHA256: 4C:6E:9B:11:FE:DD:8F:3A:4E:B6:12:4F:36:91:D9:95:D2:2B:5B:A9:46:C4:44:3D:5A:C6:A7:28:12:7E:AF:22
Signature algorithm name: SHA256withRSA
Subject Public Key Algorithm: 2048-bit RSA key
Version: 1
`

func TestFindSignatureAlgorithm(t *testing.T) {
	t.Log("keytool list output")
	{
		algorithm, err := findSignatureAlgorithm(keytoolListOutput)
		require.NoError(t, err)
		require.Equal(t, "SHA256withRSA", algorithm)
	}

	t.Log("missing algorithm")
	{
		algorithm, err := findSignatureAlgorithm("Alias name: androiddebugkey\n")
		require.NoError(t, err)
		require.Equal(t, "", algorithm)
	}
}

func TestCreateGenKeyCmd(t *testing.T) {
	pth := filepath.Join("home", ".android", "debug.keystore")
	cmdSlice := createGenKeyCmd(pth)

	require.Equal(t, "keytool", cmdSlice[0])
	require.Equal(t, "-genkeypair", cmdSlice[1])
	require.Subset(t, cmdSlice, []string{pth, DebugKeystorePassword, DebugKeyAlias, DebugKeyPassword, debugKeyDname})

	secured := secureSignCmd(cmdSlice)
	require.Equal(t, len(cmdSlice), len(secured))
	for i, param := range cmdSlice {
		switch {
		case i > 0 && (cmdSlice[i-1] == "-storepass" || cmdSlice[i-1] == "-keypass"):
			require.Equal(t, "***", secured[i])
		default:
			require.Equal(t, param, secured[i])
		}
	}
}

func TestDebugKeystorePath(t *testing.T) {
	require.Equal(t, "debug.keystore", filepath.Base(DebugKeystorePath()))
	require.Equal(t, ".android", filepath.Base(filepath.Dir(DebugKeystorePath())))
}

func TestEnsureDebugKeystoreExisting(t *testing.T) {
	pth := filepath.Join(t.TempDir(), "debug.keystore")
	require.NoError(t, os.WriteFile(pth, []byte("keystore"), 0600))
	require.NoError(t, EnsureDebugKeystore(pth))
}

func TestNewHelperMissingKeystore(t *testing.T) {
	_, err := NewHelper(filepath.Join(t.TempDir(), "missing.jks"), "pass", "alias")
	require.Error(t, err)
}
