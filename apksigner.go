package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/bitrise-io/go-utils/command"
	"github.com/bitrise-io/go-utils/errorutil"
	"github.com/bitrise-io/go-utils/log"
	"github.com/bitrise-steplib/steps-apk-patcher/keystore"
)

var signerSchemes = map[string]string{
	"automatic": "",
	"v2":        "--v2-signing-enabled",
	"v3":        "--v3-signing-enabled",
	"v4":        "--v4-signing-enabled",
}

func createSignerSchemeCmd(signerScheme string) string {
	return signerSchemes[signerScheme]
}

func createKeystoreCmdSlice(configuration *KeystoreSignatureConfiguration) ([]string, error) {
	if configuration == nil {
		return []string{}, errors.New("invalid keystore configuration")
	}

	cmdSlice := []string{
		"--ks",
		configuration.keystorePth,
		"--ks-pass",
		"pass:" + configuration.keystorePassword,
		"--ks-key-alias",
		configuration.alias,
	}

	if configuration.aliasPassword != "" {
		cmdSlice = append(cmdSlice, "--key-pass", "pass:"+configuration.aliasPassword)
	}

	return cmdSlice, nil
}

func (configuration SignatureConfiguration) createSignCmd(buildArtifactPth string, destBuildArtifactPth string) ([]string, error) {
	signatureSlice, err := createKeystoreCmdSlice(configuration.keystoreConfiguration)
	if err != nil {
		return nil, err
	}

	cmdSlice := []string{
		configuration.apkSigner,
		"sign",
		"--in",
		buildArtifactPth,
		"--out",
		destBuildArtifactPth,
		"--debuggable-apk-permitted",
		configuration.debuggablePermitted,
	}

	if scheme := createSignerSchemeCmd(configuration.signerScheme); scheme != "" {
		cmdSlice = append(cmdSlice, scheme)
	}

	return append(cmdSlice, signatureSlice...), nil
}

// SignBuildArtifact signs the APK at buildArtifactPth into destBuildArtifactPth.
// Pre-existing signatures are replaced by apksigner.
func (configuration SignatureConfiguration) SignBuildArtifact(buildArtifactPth string, destBuildArtifactPth string) error {
	cmdSlice, err := configuration.createSignCmd(buildArtifactPth, destBuildArtifactPth)
	if err != nil {
		return err
	}

	log.Printf("=> %s", command.PrintableCommandArgs(false, secureSignCmd(cmdSlice)))

	out, err := keystore.ExecuteForOutput(cmdSlice)
	if err != nil {
		return properError(err, out)
	}
	return nil
}

// VerifyBuildArtifact checks whether the APK will verify on all Android
// versions it supports.
func (configuration SignatureConfiguration) VerifyBuildArtifact(buildArtifactPth string) error {
	cmdSlice := []string{
		configuration.apkSigner,
		"verify",
		"--verbose",
		buildArtifactPth,
	}

	log.Printf("=> %s", command.PrintableCommandArgs(false, cmdSlice))

	out, err := keystore.ExecuteForOutput(cmdSlice)
	if err != nil {
		return properError(err, out)
	}
	log.Debugf(out)
	return nil
}

// SignInPlace signs and verifies the APK at pth, leaving the signed APK at the
// same path.
func (configuration SignatureConfiguration) SignInPlace(pth string) error {
	signedPth := pth + ".signed"
	if err := configuration.SignBuildArtifact(pth, signedPth); err != nil {
		return err
	}
	if err := os.Rename(signedPth, pth); err != nil {
		return fmt.Errorf("failed to move signed APK to %s: %s", pth, err)
	}
	return configuration.VerifyBuildArtifact(pth)
}

func properError(err error, out string) error {
	if errorutil.IsExitStatusError(err) {
		return errors.New(out)
	}
	return err
}

func secureSignCmd(cmdSlice []string) []string {
	securedCmdSlice := []string{}
	secureNextParam := false
	for _, param := range cmdSlice {
		if secureNextParam {
			param = "***"
		}

		secureNextParam = (param == "--ks-pass" || param == "--key-pass")
		securedCmdSlice = append(securedCmdSlice, param)
	}
	return securedCmdSlice
}
