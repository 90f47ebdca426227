package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-steputils/stepconf"
	"github.com/bitrise-io/go-steputils/tools"
	"github.com/bitrise-io/go-utils/log"
	"github.com/bitrise-io/go-utils/pathutil"
	"github.com/bitrise-steplib/steps-apk-patcher/archive"
	"github.com/bitrise-steplib/steps-apk-patcher/manifest"
	"github.com/spf13/pflag"
)

const patchedAPKPathEnvKey = "BITRISE_PATCHED_APK_PATH"

// -----------------------
// --- Models
// -----------------------

type configs struct {
	APKPath     string `env:"apk_path,required"`
	OutputPath  string `env:"output_path"`
	PackageName string `env:"package_name"`
	AppName     string `env:"app_name"`

	KeystorePath       string          `env:"keystore_url"`
	KeystorePassword   stepconf.Secret `env:"keystore_password"`
	KeystoreAlias      string          `env:"keystore_alias"`
	PrivateKeyPassword stepconf.Secret `env:"private_key_password"`

	SignerScheme string `env:"signer_scheme,opt[automatic,v2,v3,v4]"`
	PageAlign    string `env:"page_align,opt[automatic,true,false]"`
	FullRewrite  bool   `env:"full_rewrite,opt[true,false]"`
	VerboseLog   bool   `env:"verbose_log,opt[true,false]"`
}

func defaultConfigs() configs {
	return configs{
		SignerScheme: "automatic",
		PageAlign:    "automatic",
	}
}

// newPatch turns the configured names into a manifest patch. A name is edited
// when it was given, even as an empty string.
func newPatch(cfg configs, pkgNameGiven, appNameGiven bool) manifest.Patch {
	var p manifest.Patch
	if pkgNameGiven {
		pkgName := cfg.PackageName
		p.PackageName = &pkgName
	}
	if appNameGiven {
		appName := cfg.AppName
		p.AppName = &appName
	}
	return p
}

var errUsage = errors.New("usage: apk-patcher <apk-path> --output <path> [--pkgname <name>] [--appname <name>]")

func newFlagSet(cfg *configs) *pflag.FlagSet {
	fs := pflag.NewFlagSet("apk-patcher", pflag.ContinueOnError)
	fs.StringVarP(&cfg.OutputPath, "output", "o", cfg.OutputPath, "path of the patched APK")
	fs.StringVarP(&cfg.PackageName, "pkgname", "p", cfg.PackageName, "new package name")
	fs.StringVarP(&cfg.AppName, "appname", "a", cfg.AppName, "new application label")

	fs.StringVar(&cfg.KeystorePath, "keystore", cfg.KeystorePath, "keystore used for signing, defaults to the debug keystore")
	fs.StringVar((*string)(&cfg.KeystorePassword), "keystore-password", string(cfg.KeystorePassword), "keystore password")
	fs.StringVar(&cfg.KeystoreAlias, "keystore-alias", cfg.KeystoreAlias, "key alias")
	fs.StringVar((*string)(&cfg.PrivateKeyPassword), "private-key-password", string(cfg.PrivateKeyPassword), "key password")

	fs.StringVar(&cfg.SignerScheme, "signer-scheme", cfg.SignerScheme, "signature scheme: automatic, v2, v3 or v4")
	fs.StringVar(&cfg.PageAlign, "page-align", cfg.PageAlign, "page align native libraries: automatic, true or false")
	fs.BoolVar(&cfg.FullRewrite, "full-rewrite", cfg.FullRewrite, "rewrite the whole archive even if it is not signed")
	fs.BoolVar(&cfg.VerboseLog, "verbose", cfg.VerboseLog, "enable debug logs")
	return fs
}

// parseArgs reads the CLI mode configuration: one positional APK path and the
// flags of newFlagSet.
func parseArgs(args []string) (configs, manifest.Patch, error) {
	cfg := defaultConfigs()
	fs := newFlagSet(&cfg)
	fs.Usage = func() {}
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return configs{}, manifest.Patch{}, fmt.Errorf("%w\n%s", errUsage, fs.FlagUsages())
		}
		return configs{}, manifest.Patch{}, fmt.Errorf("%s\n%w", err, errUsage)
	}
	if fs.NArg() != 1 {
		return configs{}, manifest.Patch{}, fmt.Errorf("expected exactly one APK path, got %d\n%w", fs.NArg(), errUsage)
	}
	cfg.APKPath = fs.Arg(0)
	if cfg.OutputPath == "" {
		return configs{}, manifest.Patch{}, fmt.Errorf("--output is required\n%w", errUsage)
	}
	return cfg, newPatch(cfg, fs.Changed("pkgname"), fs.Changed("appname")), nil
}

// parseStepConfigs reads the step mode configuration from the environment.
// Empty inputs are not edited.
func parseStepConfigs() (configs, manifest.Patch, error) {
	cfg := defaultConfigs()
	if err := stepconf.Parse(&cfg); err != nil {
		return configs{}, manifest.Patch{}, err
	}
	stepconf.Print(cfg)
	if cfg.OutputPath == "" {
		cfg.OutputPath = filepath.Join(filepath.Dir(cfg.APKPath), prettyBuildArtifactBasename(cfg.APKPath)+"-patched.apk")
	}
	return cfg, newPatch(cfg, cfg.PackageName != "", cfg.AppName != ""), nil
}

// -----------------------
// --- Functions
// -----------------------

func download(url, pth string) error {
	out, err := os.Create(pth)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Warnf("Failed to close file: %s, error: %s", out.Name(), err)
		}
	}()

	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnf("Failed to close response body, error: %s", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	_, err = io.Copy(out, resp.Body)
	return err
}

func isRemoteKeystore(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// resolveKeystore turns a keystore reference into a local path: http(s) URLs
// are downloaded into tmpDir, file:// URLs and plain paths are expanded.
func resolveKeystore(ref, tmpDir string) (string, error) {
	if isRemoteKeystore(ref) {
		log.Infof("Download keystore")
		pth := path.Join(tmpDir, "keystore.jks")
		if err := download(ref, pth); err != nil {
			return "", fmt.Errorf("failed to download keystore: %s", err)
		}
		return pth, nil
	}
	return pathutil.AbsPath(strings.TrimPrefix(ref, "file://"))
}

func prettyBuildArtifactBasename(buildArtifactPth string) string {
	buildArtifactBasenameWithExt := path.Base(buildArtifactPth)
	buildArtifactExt := filepath.Ext(buildArtifactBasenameWithExt)
	buildArtifactBasename := strings.TrimSuffix(buildArtifactBasenameWithExt, buildArtifactExt)
	buildArtifactBasename = strings.TrimSuffix(buildArtifactBasename, "-unsigned")
	return buildArtifactBasename
}

func failf(format string, v ...interface{}) {
	log.Errorf(format, v...)
	os.Exit(1)
}

func exportAPK(pth string) {
	if err := tools.ExportEnvironmentWithEnvman(patchedAPKPathEnvKey, pth); err != nil {
		log.Warnf("Failed to export APK (%s) error: %s", pth, err)
		return
	}
	log.Donef("The Patched APK path is now available in the Environment Variable: %s (value: %s)", patchedAPKPathEnvKey, pth)
}

func reassembleOptions(cfg configs, p manifest.Patch, pageAlign bool) archive.Options {
	opts := archive.Options{
		ForceFullRewrite:    cfg.FullRewrite,
		PageAlignNativeLibs: pageAlign,
	}
	if !p.IsEmpty() {
		opts.PatchManifest = func(raw []byte) ([]byte, error) {
			return manifest.Edit(raw, p)
		}
	}
	return opts
}

func reassemble(srcPth, dstPth string, opts archive.Options) (archive.Result, error) {
	res, err := archive.Reassemble(srcPth, dstPth, opts)
	if err != nil {
		return archive.Result{}, fmt.Errorf("failed to patch APK: %w", err)
	}
	log.Printf("strategy: %s", res.Strategy)
	if len(res.Stripped) > 0 {
		log.Printf("removed signature files: %s", strings.Join(res.Stripped, ", "))
	}
	if res.ManifestPatched {
		log.Donef("%s patched", archive.ManifestName)
	}
	return res, nil
}

// patchAPK writes the patched APK to dstPth and hands it to finish for
// alignment and signing. A fast merged APK rejected by finish is rebuilt with
// the full rewrite, which has no duplicate entry names, and finished again.
func patchAPK(srcPth, dstPth string, opts archive.Options, finish func(pth string) error) (archive.Result, error) {
	res, err := reassemble(srcPth, dstPth, opts)
	if err != nil {
		return archive.Result{}, err
	}
	err = finish(dstPth)
	if err == nil {
		return res, nil
	}
	if res.Strategy != archive.StrategyFast {
		return archive.Result{}, err
	}

	fmt.Println()
	log.Warnf("Failed to finish the fast merged APK, rewriting the whole archive: %s", err)
	opts.ForceFullRewrite = true
	if res, err = reassemble(srcPth, dstPth, opts); err != nil {
		return archive.Result{}, err
	}
	if err := finish(dstPth); err != nil {
		return archive.Result{}, err
	}
	return res, nil
}

// -----------------------
// --- Main
// -----------------------
func main() {
	stepMode := len(os.Args) < 2

	var cfg configs
	var patch manifest.Patch
	var err error
	if stepMode {
		cfg, patch, err = parseStepConfigs()
	} else {
		cfg, patch, err = parseArgs(os.Args[1:])
	}
	if err != nil {
		failf("Process config: failed to parse input: %s", err)
	}
	log.SetEnableDebugLog(cfg.VerboseLog)
	fmt.Println()

	if err := validate(&cfg, &patch); err != nil {
		failf("Process config: failed to validate input: %s", err)
	}

	tmpDir, err := pathutil.NormalizedOSTempDirPath("apk-patcher")
	if err != nil {
		failf("Run: failed to create tmp dir: %s", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			log.Warnf("Failed to remove tmp dir: %s", err)
		}
	}()

	if cfg.KeystorePath != "" {
		if cfg.KeystorePath, err = resolveKeystore(cfg.KeystorePath, tmpDir); err != nil {
			failf("Run: %s", err)
		}
	}

	// Find Android tools
	apkSignerPath, err := findBuildTool("apksigner")
	if err != nil {
		failf("Run: failed to find apksigner: %s", err)
	}
	log.Printf("apksigner: %s", apkSignerPath)

	zipalignPath, err := findBuildTool("zipalign")
	if err != nil {
		log.Warnf("Skipping alignment check: %s", err)
	} else {
		log.Printf("zipalign: %s", zipalignPath)
	}

	apkSigner, err := newSignatureConfiguration(apkSignerPath, cfg)
	if err != nil {
		failf("Run: failed to create signature configuration: %s", err)
	}
	// ---

	fmt.Println()
	log.Infof("Patching %s", cfg.APKPath)

	info, infoErr := parseAPKInfo(cfg.APKPath)
	if infoErr == nil {
		log.Printf("source %s", info)
	}
	pageAlign := resolvePageAlign(parsePageAlign(cfg.PageAlign), info, infoErr)

	finish := func(pth string) error {
		if zipalignPath != "" {
			fmt.Println()
			log.Infof("Zipalign Build Artifact")
			if err := zipalignInPlace(newZipalignConfiguration(zipalignPath, pageAlign), pth); err != nil {
				return fmt.Errorf("zipalign: %w", err)
			}
		}

		fmt.Println()
		log.Infof("Sign Build Artifact with APKSigner: %s", pth)
		if err := apkSigner.SignInPlace(pth); err != nil {
			return fmt.Errorf("sign: %w", err)
		}
		return nil
	}

	if _, err := patchAPK(cfg.APKPath, cfg.OutputPath, reassembleOptions(cfg, patch, pageAlign), finish); err != nil {
		failf("Run: %s", err)
	}

	if info, err := parseAPKInfo(cfg.OutputPath); err != nil {
		log.Warnf("Failed to read back the patched APK: %s", err)
	} else {
		log.Printf("patched %s", info)
	}

	fmt.Println()
	log.Donef("Patched APK: %s", cfg.OutputPath)
	if stepMode {
		exportAPK(cfg.OutputPath)
	}
}
