// ptxsema compiles EVM bytecode into fuzzing kernels and runs them on the
// reference runtime.
package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/compiler"
)

var (
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
	debugFlag = &cli.BoolFlag{
		Name:  "kirdebug",
		Usage: "Trace every lowered block and compiler pass",
	}
)

var app = &cli.App{
	Name:  "ptxsema",
	Usage: "EVM bytecode to fuzzing kernel compiler",
	Flags: []cli.Flag{verbosityFlag, debugFlag},
	Before: func(ctx *cli.Context) error {
		level := log.FromLegacyLevel(ctx.Int(verbosityFlag.Name))
		log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, level, true)))
		if ctx.Bool(debugFlag.Name) {
			compiler.EnableDebugLogs(true)
		}
		return nil
	},
	Commands: []*cli.Command{
		compileCommand,
		cfgCommand,
		runCommand,
		dumpConfigCommand,
	},
}

var dumpConfigCommand = &cli.Command{
	Action:    dumpConfig,
	Name:      "dumpconfig",
	Usage:     "Export configuration values in a TOML format",
	ArgsUsage: "<dumpfile (optional)>",
	Flags:     append(slices.Clone(configFlags), []cli.Flag{workersFlag, maxStepsFlag}...),
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
