package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/compiler"
	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/runtime"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	sanitizersFlag = &cli.StringFlag{
		Name:  "sanitizers",
		Usage: "Comma separated oracle set (ibsan,resan,tosan,scsan,bdsan,mesan,ucsan); \"none\" disables all",
	}
	threadsFlag = &cli.IntFlag{
		Name:  "threads",
		Usage: "Execution contexts the kernel reserves coverage maps for",
	}
	gasLimitFlag = &cli.Uint64Flag{
		Name:  "gaslimit",
		Usage: "Gas budget of one execution context",
	}
	seedFlag = &cli.Int64Flag{
		Name:  "seed",
		Usage: "Seed of the coverage edge labels",
	}
	noCoverageFlag = &cli.BoolFlag{
		Name:  "nocoverage",
		Usage: "Disable coverage instrumentation",
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "Goroutines running execution contexts",
	}
	maxStepsFlag = &cli.IntFlag{
		Name:  "maxsteps",
		Usage: "Interpreter step budget of one execution context",
	}

	configFlags = []cli.Flag{
		configFileFlag,
		sanitizersFlag,
		threadsFlag,
		gasLimitFlag,
		seedFlag,
		noCoverageFlag,
	}
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type ptxConfig struct {
	Compiler compiler.Config
	Runtime  runtime.Config
}

func defaultConfig() ptxConfig {
	return ptxConfig{Compiler: *compiler.DefaultConfig()}
}

func loadConfig(file string, cfg *ptxConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig loads the config file, if any, and applies command line overrides.
func makeConfig(ctx *cli.Context) (*ptxConfig, error) {
	cfg := defaultConfig()
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return nil, err
		}
	}
	if ctx.IsSet(sanitizersFlag.Name) {
		cfg.Compiler.Sanitizers = ctx.String(sanitizersFlag.Name)
		if cfg.Compiler.Sanitizers == "none" {
			cfg.Compiler.Sanitizers = ""
		}
	}
	if ctx.IsSet(threadsFlag.Name) {
		cfg.Compiler.Threads = ctx.Int(threadsFlag.Name)
	}
	if ctx.IsSet(gasLimitFlag.Name) {
		cfg.Compiler.GasLimit = ctx.Uint64(gasLimitFlag.Name)
	}
	if ctx.IsSet(seedFlag.Name) {
		cfg.Compiler.Seed = ctx.Int64(seedFlag.Name)
	}
	if ctx.Bool(noCoverageFlag.Name) {
		cfg.Compiler.Coverage = false
	}
	if ctx.IsSet(workersFlag.Name) {
		cfg.Runtime.Workers = ctx.Int(workersFlag.Name)
	}
	if ctx.IsSet(maxStepsFlag.Name) {
		cfg.Runtime.MaxSteps = ctx.Int(maxStepsFlag.Name)
	}
	if err := cfg.Compiler.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(cfg)
	if err != nil {
		return err
	}

	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	dump.WriteString("# Note: this config doesn't contain the bytecode to compile.\n\n")
	dump.Write(out)
	return nil
}
