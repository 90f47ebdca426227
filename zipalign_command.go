package main

import (
	"github.com/bitrise-io/go-utils/command"
	"github.com/bitrise-io/go-utils/errorutil"
	"github.com/bitrise-io/go-utils/log"
	"github.com/bitrise-steplib/steps-apk-patcher/keystore"
)

type zipalignConfiguration struct {
	zipalignPath string
	pageAlign    bool
}

func newZipalignConfiguration(zipalignPath string, pageAlign bool) *zipalignConfiguration {
	return &zipalignConfiguration{
		zipalignPath: zipalignPath,
		pageAlign:    pageAlign,
	}
}

func (config *zipalignConfiguration) createCheckCmd(artifactPath string) []string {
	cmdSlice := []string{config.zipalignPath}
	if config.pageAlign {
		cmdSlice = append(cmdSlice, "-p")
	}
	return append(cmdSlice, "-c", "4", artifactPath)
}

func (config *zipalignConfiguration) createAlignCmd(artifactPath, dstPath string) []string {
	cmdSlice := []string{config.zipalignPath}
	if config.pageAlign {
		cmdSlice = append(cmdSlice, "-p")
	}
	return append(cmdSlice, "-f", "4", artifactPath, dstPath)
}

func (config *zipalignConfiguration) checkAlignment(artifactPath string) (bool, error) {
	err := keystore.Execute(config.createCheckCmd(artifactPath))
	if err != nil {
		if errorutil.IsExitStatusError(err) {
			return false, nil
		}
		return false, err
	}

	log.Printf("Artifact alignment confirmed.")
	return true, nil
}

func (config *zipalignConfiguration) zipalignArtifact(artifactPath, dstPath string) error {
	cmdSlice := config.createAlignCmd(artifactPath, dstPath)
	log.Printf("=> %s", command.PrintableCommandArgs(false, cmdSlice))

	out, err := keystore.ExecuteForOutput(cmdSlice)
	if err != nil {
		return properError(err, out)
	}
	return nil
}
