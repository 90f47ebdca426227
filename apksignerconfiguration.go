package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/bitrise-io/go-utils/log"
	"github.com/bitrise-steplib/steps-apk-patcher/keystore"
	"github.com/bitrise-tools/go-android/sdk"
)

// KeystoreSignatureConfiguration ..
type KeystoreSignatureConfiguration struct {
	keystorePth      string
	keystorePassword string
	aliasPassword    string
	alias            string
}

// SignatureConfiguration ...
type SignatureConfiguration struct {
	apkSigner             string
	signerScheme          string
	debuggablePermitted   string
	keystoreConfiguration *KeystoreSignatureConfiguration
}

// findBuildTool returns the named tool from the newest build-tools of the
// Android SDK, falling back to the PATH.
func findBuildTool(name string) (string, error) {
	androidHome := os.Getenv("ANDROID_HOME")
	if androidHome == "" {
		androidHome = os.Getenv("ANDROID_SDK_ROOT")
	}

	if androidHome != "" {
		androidSDK, err := sdk.New(androidHome)
		if err != nil {
			log.Warnf("Failed to create SDK model for %s: %s", androidHome, err)
		} else if pth, err := androidSDK.LatestBuildToolPath(name); err != nil {
			log.Debugf("%s not found in build-tools: %s", name, err)
		} else {
			return pth, nil
		}
	}

	pth, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in $ANDROID_HOME/build-tools nor in $PATH", name)
	}
	return pth, nil
}

// NewKeystoreSignatureConfiguration ...
func NewKeystoreSignatureConfiguration(apkSigner string, keystorePth string, keystorePassword string, alias string, aliasPassword string, signerScheme string) SignatureConfiguration {
	return SignatureConfiguration{
		apkSigner:           apkSigner,
		debuggablePermitted: "true",
		signerScheme:        signerScheme,
		keystoreConfiguration: &KeystoreSignatureConfiguration{
			keystorePth:      keystorePth,
			keystorePassword: keystorePassword,
			alias:            alias,
			aliasPassword:    aliasPassword,
		},
	}
}

// newSignatureConfiguration signs with the given keystore, or with the debug
// keystore (created on first use) when cfg has none.
func newSignatureConfiguration(apkSigner string, cfg configs) (SignatureConfiguration, error) {
	if cfg.KeystorePath == "" {
		pth := keystore.DebugKeystorePath()
		if err := keystore.EnsureDebugKeystore(pth); err != nil {
			return SignatureConfiguration{}, fmt.Errorf("failed to prepare debug keystore: %s", err)
		}
		log.Printf("using debug keystore at: %s", pth)
		return NewKeystoreSignatureConfiguration(apkSigner, pth, keystore.DebugKeystorePassword, keystore.DebugKeyAlias, keystore.DebugKeyPassword, cfg.SignerScheme), nil
	}

	helper, err := keystore.NewHelper(cfg.KeystorePath, string(cfg.KeystorePassword), cfg.KeystoreAlias)
	if err != nil {
		return SignatureConfiguration{}, fmt.Errorf("failed to read keystore: %s", err)
	}
	log.Printf("using keystore at: %s (%s)", cfg.KeystorePath, helper.SignatureAlgorithm())
	return NewKeystoreSignatureConfiguration(apkSigner, cfg.KeystorePath, string(cfg.KeystorePassword), cfg.KeystoreAlias, string(cfg.PrivateKeyPassword), cfg.SignerScheme), nil
}
