// Command sparrow runs precompiled chunk files (.spwc) on the engine.
package main

import (
	"flag"
	"fmt"
	"os"

	"sparrow/pkg/codecache"
	"sparrow/pkg/config"
	"sparrow/pkg/errors"
	"sparrow/pkg/vm"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	disasm := flag.Bool("disasm", false, "disassemble the chunk instead of running it")
	collect := flag.Bool("collect", false, "run a final cycle collection and report freed cells")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] chunk.spwc...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sparrow: %s\n", err)
			os.Exit(1)
		}
	}
	cfg.ConfigureLogging()

	ctx := vm.NewContextWithLimits(cfg.VMLimits())
	defer ctx.Close()

	for _, path := range flag.Args() {
		if err := runFile(ctx, path, *disasm); err != nil {
			printError(err)
			os.Exit(1)
		}
	}

	if *collect {
		freed := ctx.Collect()
		fmt.Fprintf(os.Stderr, "collected %d cells\n", freed)
	}
}

func runFile(ctx *vm.Context, path string, disasm bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Newf("cannot read %q: %s", path, err).CausedBy(err)
	}
	chunk, err := codecache.Decode(data)
	if err != nil {
		return err
	}

	if disasm {
		fmt.Print(chunk.Disassemble())
		return nil
	}

	result, err := ctx.Eval(chunk)
	if err != nil {
		return err
	}
	defer ctx.ReleaseValue(result)
	if !result.IsUndefined() {
		fmt.Println(result.Inspect())
	}
	return nil
}

func printError(err error) {
	if thrown, ok := vm.UnwrapThrown(err); ok {
		fmt.Fprintf(os.Stderr, "uncaught %s\n", thrown.Inspect())
		return
	}
	fmt.Fprintf(os.Stderr, "sparrow: %s\n", err)
}
