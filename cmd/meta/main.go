package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/meta/compiler"
	"github.com/slowlang/meta/compiler/back"
	"github.com/slowlang/meta/compiler/meta"
)

func main() {
	runCmd := &cli.Command{
		Name:   "run",
		Usage:  "[demo ...]",
		Action: runAct,
		Args:   cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("backend,b", "asm", "code generation backend: asm or ssa"),
			cli.NewFlag("dump", false, "print generated code"),
			cli.NewFlag("perfmap", "", "append code map to the file"),
		},
	}

	listCmd := &cli.Command{
		Name:   "list",
		Action: listAct,
	}

	app := &cli.Command{
		Name:        "meta",
		Description: "meta builds and runs demo functions described with the meta package",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			runCmd,
			listCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func listAct(c *cli.Command) error {
	for _, name := range demoNames() {
		fmt.Printf("%-10s %v\n", name, demos[name].sig)
	}

	return nil
}

func runAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cfg := meta.Config{
		Backend: back.Kind(c.String("backend")),
	}

	if q := c.String("perfmap"); q != "" {
		var f *os.File

		f, err = os.OpenFile(q, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return errors.Wrap(err, "open perfmap")
		}

		defer closer(f, &err)

		cfg.Profile = f
	}

	names := c.Args
	if len(names) == 0 {
		names = demoNames()
	}

	name := color.New(color.Bold).SprintFunc()
	okc := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()

	for _, n := range names {
		d, ok := demos[n]
		if !ok {
			return errors.New("no such demo: %v", n)
		}

		code, err := compiler.Build(ctx, cfg, n, d.sig, d.describe)
		if err != nil {
			return errors.Wrap(err, "build %v", n)
		}

		if c.Bool("dump") {
			fmt.Printf("%s\n%s\n", name(n), code.Dump())
		}

		for _, tc := range d.cases {
			res, err := code.Call(tc.args...)
			if err != nil {
				return errors.Wrap(err, "call %v", n)
			}

			mark := okc("ok")
			if res != tc.exp {
				mark = bad("FAIL")
			}

			fmt.Printf("%-4s %s%v = %v (want %v)\n", mark, name(n), tc.args, res, tc.exp)
		}
	}

	return nil
}

func demoNames() []string {
	names := make([]string, 0, len(demos))

	for n := range demos {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

func closer(c io.Closer, errp *error) {
	err := c.Close()
	if *errp == nil && err != nil {
		*errp = errors.Wrap(err, "close")
	}
}
