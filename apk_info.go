package main

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/avast/apkparser"
	"github.com/bitrise-io/go-utils/log"
)

type manifestXML struct {
	XMLName     xml.Name `xml:"manifest"`
	Package     string   `xml:"package,attr"`
	Application applicationXML
}

type applicationXML struct {
	XMLName           xml.Name `xml:"application"`
	Label             string   `xml:"label,attr"`
	ExtractNativeLibs bool     `xml:"extractNativeLibs,attr"` // defaults to false
}

type apkInfo struct {
	PackageName       string
	AppLabel          string
	ExtractNativeLibs bool
}

func (info apkInfo) String() string {
	return fmt.Sprintf("package: %s, label: %s", info.PackageName, info.AppLabel)
}

func parseAPKInfo(apkPath string) (apkInfo, error) {
	var manifestContent bytes.Buffer
	enc := xml.NewEncoder(&manifestContent)
	enc.Indent("", "\t")

	zipErr, resErr, manErr := apkparser.ParseApk(apkPath, enc)
	if zipErr != nil {
		return apkInfo{}, fmt.Errorf("failed to unzip the APK: %s", zipErr)
	}
	if manErr != nil {
		return apkInfo{}, fmt.Errorf("failed to parse AndroidManifest.xml: %s", manErr)
	}
	if resErr != nil {
		// Labels stay unresolved resource references.
		log.Debugf("failed to parse resources: %s", resErr)
	}

	return unmarshalAPKInfo(manifestContent.Bytes())
}

func unmarshalAPKInfo(manifestContent []byte) (apkInfo, error) {
	var manifest manifestXML
	if err := xml.Unmarshal(manifestContent, &manifest); err != nil {
		return apkInfo{}, fmt.Errorf("failed to unmarshal AndroidManifest.xml: %s", err)
	}

	return apkInfo{
		PackageName:       manifest.Package,
		AppLabel:          manifest.Application.Label,
		ExtractNativeLibs: manifest.Application.ExtractNativeLibs,
	}, nil
}
