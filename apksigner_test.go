package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateSignCmd(t *testing.T) {
	t.Log("automatic scheme with key password")
	{
		configuration := NewKeystoreSignatureConfiguration("apksigner", "debug.keystore", "android", "androiddebugkey", "android", "automatic")
		cmdSlice, err := configuration.createSignCmd("in.apk", "out.apk")
		require.NoError(t, err)
		require.Equal(t, []string{
			"apksigner", "sign",
			"--in", "in.apk",
			"--out", "out.apk",
			"--debuggable-apk-permitted", "true",
			"--ks", "debug.keystore",
			"--ks-pass", "pass:android",
			"--ks-key-alias", "androiddebugkey",
			"--key-pass", "pass:android",
		}, cmdSlice)
	}

	t.Log("explicit scheme without key password")
	{
		configuration := NewKeystoreSignatureConfiguration("apksigner", "release.jks", "store", "key0", "", "v3")
		cmdSlice, err := configuration.createSignCmd("in.apk", "out.apk")
		require.NoError(t, err)
		require.Contains(t, cmdSlice, "--v3-signing-enabled")
		require.NotContains(t, cmdSlice, "--key-pass")
	}

	t.Log("missing keystore")
	{
		_, err := SignatureConfiguration{apkSigner: "apksigner"}.createSignCmd("in.apk", "out.apk")
		require.Error(t, err)
	}
}

func TestSecureSignCmd(t *testing.T) {
	cmdSlice := []string{"apksigner", "sign", "--ks", "a.jks", "--ks-pass", "pass:secret", "--ks-key-alias", "key0", "--key-pass", "pass:other"}
	require.Equal(t, []string{"apksigner", "sign", "--ks", "a.jks", "--ks-pass", "***", "--ks-key-alias", "key0", "--key-pass", "***"}, secureSignCmd(cmdSlice))
}

func TestCreateSignerSchemeCmd(t *testing.T) {
	require.Equal(t, "", createSignerSchemeCmd("automatic"))
	require.Equal(t, "--v2-signing-enabled", createSignerSchemeCmd("v2"))
	require.Equal(t, "--v4-signing-enabled", createSignerSchemeCmd("v4"))
}
