//go:build ignore

// build.go builds and tests hdxscraper.
// Usage: go run build.go [-target=TARGET] [-v]
// Targets: all, build, test, clean

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const module = "hdxscraper"

var distDir = "dist"

func main() {
	target := flag.String("target", "all", "Build target")
	verbose := flag.Bool("v", false, "Verbose output")
	version := flag.String("version", "dev", "Version stamped into the binary")
	flag.Parse()

	start := time.Now()
	var err error
	switch *target {
	case "all":
		if err = test(*verbose); err == nil {
			err = build(*version, *verbose)
		}
	case "build":
		err = build(*version, *verbose)
	case "test":
		err = test(*verbose)
	case "clean":
		err = os.RemoveAll(distDir)
	default:
		err = fmt.Errorf("unknown target %q", *target)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s done in %s\n", *target, time.Since(start).Round(time.Millisecond))
}

func build(version string, verbose bool) error {
	if err := os.MkdirAll(distDir, 0o755); err != nil {
		return err
	}
	out := filepath.Join(distDir, "hdxscraper")
	if runtime.GOOS == "windows" {
		out += ".exe"
	}
	ldflags := fmt.Sprintf("-s -w -X %s/internal/app.Version=%s", module, version)
	return run(verbose, "go", "build", "-trimpath", "-ldflags", ldflags, "-o", out, "./cmd/hdxscraper")
}

func test(verbose bool) error {
	args := []string{"test", "-race", "./..."}
	if verbose {
		args = append(args, "-v")
	}
	return run(verbose, "go", args...)
}

func run(verbose bool, name string, args ...string) error {
	if verbose {
		fmt.Println(name, strings.Join(args, " "))
	}
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
