package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/lithammer/dedent"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/evelin-lang/evelin"
)

var helpText = dedent.Dedent(`
	evelinc compiles one or more .eve source files down to a native
	executable via an external QBE backend and the platform C compiler.
`)

// RunCLI builds and runs the urfave/cli application over args.
func RunCLI(args []string) error {
	app := &cli.App{
		Name:                 "evelinc",
		Usage:                "compile Evelin source to a native executable",
		Description:          strings.TrimSpace(helpText),
		Version:              versionString,
		EnableBashCompletion: true,
		// main prints the error and sets the exit status itself; without
		// this the library would call os.Exit before Run returns.
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "cc", Value: "cc", Usage: "C compiler used for the final link step"},
			&cli.StringFlag{Name: "out", Value: "out", Usage: "output executable name"},
			&cli.StringFlag{Name: "debug", Value: "error", Usage: "log level: error, debug, or trace"},
			&cli.StringSliceFlag{Name: "l", Usage: "link against library NAME (repeatable)"},
			&cli.StringSliceFlag{Name: "L", Usage: "add DIR to the library search path (repeatable)"},
		},
		Action: runBuild,
	}
	return app.Run(append([]string{"evelinc"}, args...))
}

func runBuild(c *cli.Context) error {
	if c.IsSet("debug") {
		if lvl, err := log.ParseLevel(c.String("debug")); err == nil {
			log.SetLevel(lvl)
		}
	}

	paths := c.Args().Slice()
	if len(paths) == 0 {
		return cli.Exit("evelinc: no input files", 1)
	}

	var sources []evelin.Source
	for _, p := range paths {
		if filepath.Ext(p) != ".eve" {
			return cli.Exit(fmt.Sprintf("evelinc: %s: unrecognised extension, expected .eve", p), 1)
		}
		text, err := os.ReadFile(p)
		if err != nil {
			return cli.Exit(fmt.Sprintf("evelinc: %s: %v", p, err), 1)
		}
		sources = append(sources, evelin.Source{Path: p, Text: string(text)})
	}

	result, errs := evelin.Compile(sources)
	for _, e := range errs {
		fmt.Fprintln(os.Stderr, e)
	}
	if result == nil {
		return cli.Exit("evelinc: compilation failed", 1)
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		log.Debug("parsed program:\n" + result.Program.Dump())
	}

	irText := result.Module.String()
	asmPath := strings.TrimSuffix(paths[0], ".eve") + ".s"
	if err := runBackend(irText, asmPath); err != nil {
		return cli.Exit(fmt.Sprintf("evelinc: backend failed: %v", err), 1)
	}
	defer os.Remove(asmPath)

	return link(c, asmPath)
}

// runBackend hands the IR text to the external QBE binary named "qbe" on
// $PATH, writing its assembly output to asmPath.
func runBackend(irText, asmPath string) error {
	cmd := exec.Command("qbe", "-o", asmPath)
	cmd.Stdin = strings.NewReader(irText)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func link(c *cli.Context, asmPath string) error {
	cc := c.String("cc")
	out := c.String("out")
	args := []string{asmPath, "-o", out}
	for _, dir := range c.StringSlice("L") {
		args = append(args, "-L"+dir)
	}
	for _, lib := range c.StringSlice("l") {
		args = append(args, "-l"+lib)
	}
	cmd := exec.Command(cc, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
