package main

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnmarshalAPKInfo(t *testing.T) {
	for _, tt := range []struct {
		name     string
		manifest string
		want     apkInfo
		wantErr  bool
	}{
		{
			name: "package and label",
			manifest: `<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example.app">
	<application android:label="Example"></application>
</manifest>`,
			want: apkInfo{PackageName: "com.example.app", AppLabel: "Example"},
		},
		{
			name: "extracted native libraries",
			manifest: `<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example.app">
	<application android:label="@string/app_name" android:extractNativeLibs="true"></application>
</manifest>`,
			want: apkInfo{PackageName: "com.example.app", AppLabel: "@string/app_name", ExtractNativeLibs: true},
		},
		{
			name:     "no application",
			manifest: `<manifest package="com.example.app"></manifest>`,
			want:     apkInfo{PackageName: "com.example.app"},
		},
		{
			name:     "not a manifest",
			manifest: `<application></application>`,
			wantErr:  true,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := unmarshalAPKInfo([]byte(tt.manifest))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseAPKInfoMissingAPK(t *testing.T) {
	_, err := parseAPKInfo(filepath.Join(t.TempDir(), "missing.apk"))
	require.Error(t, err)
}

func TestResolvePageAlign(t *testing.T) {
	require.True(t, resolvePageAlign(pageAlignYes, apkInfo{ExtractNativeLibs: true}, nil))
	require.False(t, resolvePageAlign(pageAlignNo, apkInfo{}, nil))
	require.True(t, resolvePageAlign(pageAlignAuto, apkInfo{}, nil))
	require.False(t, resolvePageAlign(pageAlignAuto, apkInfo{ExtractNativeLibs: true}, nil))
	require.True(t, resolvePageAlign(pageAlignAuto, apkInfo{}, errors.New("no manifest")))
}

func TestParsePageAlign(t *testing.T) {
	require.Equal(t, pageAlignAuto, parsePageAlign("automatic"))
	require.Equal(t, pageAlignAuto, parsePageAlign(""))
	require.Equal(t, pageAlignYes, parsePageAlign("true"))
	require.Equal(t, pageAlignNo, parsePageAlign("false"))
	require.Equal(t, pageAlignInvalid, parsePageAlign("yes"))
}
