package keystore

// https://github.com/calabash/calabash-android/blob/6bb3d9ac9eadf353dc7573c28a957e88e6669f67/ruby-gem/lib/calabash-android/helpers.rb

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bitrise-io/go-utils/command"
	"github.com/bitrise-io/go-utils/errorutil"
	"github.com/bitrise-io/go-utils/log"
	"github.com/bitrise-io/go-utils/pathutil"
)

// Credentials of the keystore the Android build tools sign debug builds with.
const (
	DebugKeystorePassword = "android"
	DebugKeyAlias         = "androiddebugkey"
	DebugKeyPassword      = "android"
)

const debugKeyDname = "CN=Android Debug,O=Android,C=US"

var signatureAlgorithmExp = regexp.MustCompile(`Signature algorithm name: (.*)`)

// Helper ...
type Helper struct {
	keystorePth        string
	keystorePassword   string
	alias              string
	signatureAlgorithm string
}

// Execute ...
func Execute(cmdSlice []string) error {
	prinatableCmd := command.PrintableCommandArgs(false, cmdSlice)
	log.Printf("=> %s", prinatableCmd)
	fmt.Println("")

	cmd, err := command.NewFromSlice(cmdSlice)
	if err != nil {
		return fmt.Errorf("Failed to create command, error: %s", err)
	}

	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	log.Printf(out)
	return err
}

// ExecuteForOutput ...
func ExecuteForOutput(cmdSlice []string) (string, error) {
	cmd, err := command.NewFromSlice(cmdSlice)
	if err != nil {
		return "", fmt.Errorf("Failed to create command, error: %s", err)
	}

	var errBuf, outputBuf bytes.Buffer
	writer := io.MultiWriter(&outputBuf, &errBuf)
	cmd.SetStdout(&outputBuf)
	cmd.SetStderr(writer)

	err = cmd.Run()
	if err != nil {
		err = fmt.Errorf("%s\n%s\n%s", outputBuf.String(), errBuf.String(), err)
	}

	return outputBuf.String(), err
}

// DebugKeystorePath is where the Android build tools keep the debug keystore.
func DebugKeystorePath() string {
	return filepath.Join(pathutil.UserHomeDir(), ".android", "debug.keystore")
}

func createGenKeyCmd(keystorePth string) []string {
	return []string{
		"keytool",
		"-genkeypair",
		"-v",

		"-keystore",
		keystorePth,
		"-storepass",
		DebugKeystorePassword,

		"-alias",
		DebugKeyAlias,
		"-keypass",
		DebugKeyPassword,

		"-keyalg",
		"RSA",
		"-keysize",
		"2048",
		"-validity",
		"10000",
		"-dname",
		debugKeyDname,

		"-J-Dfile.encoding=utf-8",
		"-J-Duser.language=en-US",
	}
}

// EnsureDebugKeystore generates the debug keystore at keystorePth unless it
// already exists.
func EnsureDebugKeystore(keystorePth string) error {
	if exist, err := pathutil.IsPathExists(keystorePth); err != nil {
		return err
	} else if exist {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(keystorePth), 0755); err != nil {
		return err
	}

	cmdSlice := createGenKeyCmd(keystorePth)
	log.Printf("=> %s", command.PrintableCommandArgs(false, secureSignCmd(cmdSlice)))

	out, err := ExecuteForOutput(cmdSlice)
	if err != nil {
		return properError(err, out)
	}
	return nil
}

// NewHelper checks that the alias can be read from the keystore with the given
// password.
func NewHelper(keystorePth, keystorePassword, alias string) (Helper, error) {
	if exist, err := pathutil.IsPathExists(keystorePth); err != nil {
		return Helper{}, err
	} else if !exist {
		return Helper{}, fmt.Errorf("keystore not exist at: %s", keystorePth)
	}

	cmdSlice := []string{
		"keytool",
		"-list",
		"-v",

		"-keystore",
		keystorePth,
		"-storepass",
		keystorePassword,

		"-alias",
		alias,

		"-J-Dfile.encoding=utf-8",
		"-J-Duser.language=en-US",
	}

	out, err := ExecuteForOutput(cmdSlice)
	if err != nil {
		return Helper{}, properError(err, out)
	}
	if out == "" {
		return Helper{}, fmt.Errorf("failed to read keystore, maybe alias (%s) or password (%s) is not correct", alias, "****")
	}

	signatureAlgorithm, err := findSignatureAlgorithm(out)
	if err != nil {
		return Helper{}, err
	}
	if signatureAlgorithm == "" {
		return Helper{}, errors.New("failed to find signature algorithm")
	}

	return Helper{
		keystorePth:        keystorePth,
		keystorePassword:   keystorePassword,
		alias:              alias,
		signatureAlgorithm: signatureAlgorithm,
	}, nil
}

// SignatureAlgorithm ...
func (helper Helper) SignatureAlgorithm() string {
	return helper.signatureAlgorithm
}

func properError(err error, out string) error {
	if errorutil.IsExitStatusError(err) {
		return errors.New(out)
	}
	return err
}

func findSignatureAlgorithm(keystoreData string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(keystoreData))
	for scanner.Scan() {
		matches := signatureAlgorithmExp.FindStringSubmatch(scanner.Text())
		if len(matches) > 1 {
			return matches[1], nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", err
	}

	return "", nil
}

func secureSignCmd(cmdSlice []string) []string {
	securedCmdSlice := []string{}
	secureNextParam := false
	for _, param := range cmdSlice {
		if secureNextParam {
			param = "***"
		}

		secureNextParam = (param == "-storepass" || param == "-keypass")
		securedCmdSlice = append(securedCmdSlice, param)
	}
	return securedCmdSlice
}
