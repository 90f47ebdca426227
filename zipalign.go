package main

import (
	"fmt"
	"os"

	"github.com/bitrise-io/go-utils/log"
)

type pageAlignStatus int

const (
	pageAlignInvalid pageAlignStatus = iota
	pageAlignAuto
	pageAlignYes
	pageAlignNo
)

func parsePageAlign(s string) pageAlignStatus {
	switch s {
	case "automatic", "":
		return pageAlignAuto
	case "true":
		return pageAlignYes
	case "false":
		return pageAlignNo
	default:
		return pageAlignInvalid
	}
}

// resolvePageAlign decides whether native libraries are page aligned. In
// automatic mode they are unless the APK asks for them to be extracted.
func resolvePageAlign(status pageAlignStatus, info apkInfo, infoErr error) bool {
	if status != pageAlignAuto {
		return status == pageAlignYes
	}
	if infoErr != nil {
		log.Warnf("Failed to parse APK manifest to read extractNativeLibs attribute: %s", infoErr)
		return true
	}
	return !info.ExtractNativeLibs
}

// zipalignInPlace leaves pth untouched when it is already aligned, otherwise
// replaces it with its realigned copy.
func zipalignInPlace(zipalignConfig *zipalignConfiguration, pth string) error {
	aligned, err := zipalignConfig.checkAlignment(pth)
	if err != nil {
		return err
	}
	if aligned {
		return nil
	}

	log.Warnf("Artifact is not aligned, realigning")
	alignedPth := pth + ".aligned"
	if err := zipalignConfig.zipalignArtifact(pth, alignedPth); err != nil {
		return err
	}
	if err := os.Rename(alignedPth, pth); err != nil {
		return fmt.Errorf("failed to move aligned APK to %s: %s", pth, err)
	}
	return nil
}
