// Command builder produces a stompbridge binary that links only the chosen plugins.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	modulePath     = "github.com/fujin-io/stompbridge"
	servicePackage = modulePath + "/public/service"
	moduleName     = "tmpstompbridge"
)

var (
	configurators  stringSlice
	connectors     stringSlice
	decorators     stringSlice
	authenticators stringSlice
	output         = flag.String("output", "stompbridge", "Output binary path")
	buildTags      = flag.String("tags", "netgo,osusergo", "Build tags for the final binary")
	version        = flag.String("version", "", "Version reported by the binary")
	extraLdflags   = flag.String("ldflags", "", "Extra ldflags")
	cgoEnabled     = flag.Bool("cgo", false, "Enable CGO (required by some plugins)")
	localModule    = flag.Bool("local", false, "Use the local stompbridge module (for builds from source)")
)

type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ",") }
func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func init() {
	flag.Var(&configurators, "configurator", "Configurator plugins")
	flag.Var(&connectors, "connector", "Connector plugins")
	flag.Var(&decorators, "decorator", "Connector decorator plugins")
	flag.Var(&authenticators, "authenticator", "CONNECT authenticator plugins")
}

func main() {
	flag.Parse()

	p := plugins{
		configurators:  configurators,
		connectors:     connectors,
		decorators:     decorators,
		authenticators: authenticators,
	}
	if err := p.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(*output) == "" {
		fmt.Fprintln(os.Stderr, "Error: output path cannot be empty")
		os.Exit(1)
	}

	if err := runBuild(buildOpts{
		outputPath:  *output,
		plugins:     p,
		tags:        *buildTags,
		ldflags:     ldflags(*version, *extraLdflags),
		cgoEnabled:  *cgoEnabled,
		localModule: *localModule,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("stompbridge binary built successfully: %s\n", *output)
}

type buildOpts struct {
	outputPath  string
	plugins     plugins
	tags        string
	ldflags     string
	cgoEnabled  bool
	localModule bool
}

func ldflags(version, extra string) string {
	flags := []string{"-s", "-w"}
	if version != "" {
		flags = append(flags, "-X", servicePackage+".Version="+version)
	}
	if extra != "" {
		flags = append(flags, extra)
	}
	return strings.Join(flags, " ")
}

func runBuild(opts buildOpts) error {
	tmpDir, err := os.MkdirTemp("", "stompbridge-builder-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	if err := runGo(tmpDir, nil, "mod", "init", moduleName); err != nil {
		return err
	}
	if opts.localModule {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working dir: %w", err)
		}
		if err := runGo(tmpDir, nil, "mod", "edit", "-replace", modulePath+"="+cwd); err != nil {
			return fmt.Errorf("add replace directive: %w", err)
		}
	}
	if err := runGo(tmpDir, nil, "get", servicePackage); err != nil {
		return err
	}
	for _, pkg := range opts.plugins.all() {
		if err := runGo(tmpDir, nil, "get", pkg); err != nil {
			return fmt.Errorf("go get %s: %w", pkg, err)
		}
	}

	if err := os.WriteFile(filepath.Join(tmpDir, "main.go"), []byte(generateMain(opts.plugins)), 0o644); err != nil {
		return fmt.Errorf("write main.go: %w", err)
	}

	outPath, err := filepath.Abs(opts.outputPath)
	if err != nil {
		return fmt.Errorf("output path: %w", err)
	}

	cgo := "0"
	if opts.cgoEnabled {
		cgo = "1"
	}
	env := append(os.Environ(), "CGO_ENABLED="+cgo)
	return runGo(tmpDir, env, "build", "-ldflags", opts.ldflags, "-tags", opts.tags, "-o", outPath, ".")
}

type plugins struct {
	configurators  []string
	connectors     []string
	decorators     []string
	authenticators []string
}

func (p plugins) all() []string {
	var all []string
	all = append(all, p.configurators...)
	all = append(all, p.connectors...)
	all = append(all, p.decorators...)
	all = append(all, p.authenticators...)
	return all
}

func (p plugins) validate() error {
	if len(p.configurators) == 0 {
		return fmt.Errorf("at least one configurator is required (e.g. -configurator %s/public/plugins/configurator/file)", modulePath)
	}
	if len(p.connectors) == 0 {
		return fmt.Errorf("at least one connector is required (e.g. -connector %s/public/plugins/connector/nats/core)", modulePath)
	}
	seen := make(map[string]bool)
	for _, pkg := range p.all() {
		if strings.TrimSpace(pkg) == "" {
			return fmt.Errorf("plugin package path cannot be empty")
		}
		if seen[pkg] {
			return fmt.Errorf("duplicate plugin: %s", pkg)
		}
		seen[pkg] = true
	}
	return nil
}

func generateMain(p plugins) string {
	sb := strings.Builder{}
	sb.WriteString("package main\n\n")
	sb.WriteString("import (\n")
	sb.WriteString("\t\"context\"\n\t\"os/signal\"\n\t\"syscall\"\n\n")
	fmt.Fprintf(&sb, "\t%q\n", servicePackage)
	for _, pkg := range p.all() {
		fmt.Fprintf(&sb, "\t_ %q\n", pkg)
	}
	sb.WriteString(")\n\n")
	sb.WriteString(`func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()
	service.RunCLI(ctx)
}
`)
	return sb.String()
}

func runGo(dir string, env []string, args ...string) error {
	if env == nil {
		env = os.Environ()
	}
	cmd := exec.Command("go", args...)
	cmd.Dir = dir
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("go %s: %w\n%s", strings.Join(args, " "), err, out)
	}
	return nil
}
