package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bitrise-io/go-utils/pathutil"
	"github.com/bitrise-steplib/steps-apk-patcher/manifest"
)

var packageNameComponentExp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidationError reports an input that was rejected before any APK I/O.
type ValidationError struct {
	Input  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%s): %s", e.Input, e.Value, e.Reason)
}

// validatePackageName checks the dot separated package name grammar and
// returns the name in lower case.
func validatePackageName(name string) (string, error) {
	invalid := func(reason string) error {
		return &ValidationError{Input: "package name", Value: name, Reason: reason}
	}

	if name == "" {
		return "", invalid("must not be empty")
	}
	for _, component := range strings.Split(name, ".") {
		if component == "" {
			return "", invalid("must not start or end with a dot or contain adjacent dots")
		}
		if !packageNameComponentExp.MatchString(component) {
			return "", invalid(fmt.Sprintf("component %q must consist of ASCII letters, digits and underscores and must not start with a digit", component))
		}
	}
	return strings.ToLower(name), nil
}

// isSameFile reports whether both paths name the same file. A missing pth2
// is never the same file.
func isSameFile(pth1, pth2 string) (bool, error) {
	abs1, err := filepath.Abs(pth1)
	if err != nil {
		return false, err
	}
	abs2, err := filepath.Abs(pth2)
	if err != nil {
		return false, err
	}
	if abs1 == abs2 {
		return true, nil
	}

	info2, err := os.Stat(pth2)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	info1, err := os.Stat(pth1)
	if err != nil {
		return false, err
	}
	return os.SameFile(info1, info2), nil
}

func validate(cfg *configs, patch *manifest.Patch) error {
	if patch.PackageName != nil {
		pkgName, err := validatePackageName(*patch.PackageName)
		if err != nil {
			return err
		}
		patch.PackageName = &pkgName
		cfg.PackageName = pkgName
	}

	if parsePageAlign(cfg.PageAlign) == pageAlignInvalid {
		return &ValidationError{Input: "page align", Value: cfg.PageAlign, Reason: "must be one of automatic, true, false"}
	}
	if _, ok := signerSchemes[cfg.SignerScheme]; !ok {
		return &ValidationError{Input: "signer scheme", Value: cfg.SignerScheme, Reason: "must be one of automatic, v2, v3, v4"}
	}
	if cfg.KeystorePath != "" && cfg.KeystoreAlias == "" {
		return &ValidationError{Input: "keystore alias", Value: "", Reason: "required when a keystore is set"}
	}

	if cfg.OutputPath == "" {
		return &ValidationError{Input: "output path", Value: "", Reason: "must not be empty"}
	}

	if exist, err := pathutil.IsPathExists(cfg.APKPath); err != nil {
		return fmt.Errorf("failed to check if APK exists at: %s, error: %s", cfg.APKPath, err)
	} else if !exist {
		return fmt.Errorf("APK not exist at: %s", cfg.APKPath)
	}
	if same, err := isSameFile(cfg.APKPath, cfg.OutputPath); err != nil {
		return fmt.Errorf("failed to compare APK and output path: %s", err)
	} else if same {
		return &ValidationError{Input: "output path", Value: cfg.OutputPath, Reason: "must not be the APK being patched"}
	}
	if cfg.KeystorePath != "" && !isRemoteKeystore(cfg.KeystorePath) {
		pth := strings.TrimPrefix(cfg.KeystorePath, "file://")
		if exist, err := pathutil.IsPathExists(pth); err != nil {
			return fmt.Errorf("failed to check if keystore exists at: %s, error: %s", pth, err)
		} else if !exist {
			return fmt.Errorf("keystore not exist at: %s", pth)
		}
	}
	return nil
}
