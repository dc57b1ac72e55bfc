package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/runtime"
)

var (
	txFlag = &cli.StringSliceFlag{
		Name:  "tx",
		Usage: "Transaction as caller:value:calldata in hex, or bare calldata",
	}
	txFileFlag = &cli.StringFlag{
		Name:  "txfile",
		Usage: "File with one transaction per line",
	}

	runCommand = &cli.Command{
		Action:    runCmd,
		Name:      "run",
		Usage:     "Compile bytecode and execute transactions on the reference runtime",
		ArgsUsage: "<code file | hex>",
		Flags: append(slices.Clone(configFlags), []cli.Flag{
			runtimeCodeFlag,
			rawFlag,
			workersFlag,
			maxStepsFlag,
			txFlag,
			txFileFlag,
		}...),
		Description: `
The run command executes each transaction in its own execution context and
reports the bug signals raised and the coverage reached. Transactions beyond
the context count run in further launches that keep the cumulative coverage.`,
	}
)

// readTxs parses transactions, one per line. Empty lines and lines starting
// with # are skipped.
func readTxs(r io.Reader) ([]*runtime.Tx, error) {
	var txs []*runtime.Tx
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		tx, err := runtime.ParseTx(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		txs = append(txs, tx)
	}
	return txs, scanner.Err()
}

func loadTxs(ctx *cli.Context) ([]*runtime.Tx, error) {
	var txs []*runtime.Tx
	for _, s := range ctx.StringSlice(txFlag.Name) {
		tx, err := runtime.ParseTx(s)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if file := ctx.String(txFileFlag.Name); file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		more, err := readTxs(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		txs = append(txs, more...)
	}
	if len(txs) == 0 {
		txs = append(txs, &runtime.Tx{CallValue: new(uint256.Int)})
	}
	return txs, nil
}

type txOutcome struct {
	tx     *runtime.Tx
	status string
	fresh  bool
}

// execution accumulates the launches of one run command.
type execution struct {
	outcomes []txOutcome
	signals  []runtime.Signal // Tid is the transaction index
	covered  int
	launches int
}

// execute runs txs in launches of at most rt.Contexts() transactions.
func execute(rt *runtime.Runtime, txs []*runtime.Tx) (*execution, error) {
	ex := new(execution)
	for start := 0; start < len(txs); start += rt.Contexts() {
		batch := txs[start:min(start+rt.Contexts(), len(txs))]
		report, err := rt.Launch(batch)
		if err != nil {
			return nil, fmt.Errorf("launch %d: %w", ex.launches, err)
		}
		ex.launches++
		for i, tx := range batch {
			ex.outcomes = append(ex.outcomes, txOutcome{
				tx:     tx,
				status: report.Statuses[i].String(),
				fresh:  slices.Contains(report.Fresh, i),
			})
		}
		for _, s := range report.Signals {
			s.Tid += start
			ex.signals = append(ex.signals, s)
		}
		ex.covered = report.Covered
	}
	return ex, nil
}

func runCmd(ctx *cli.Context) error {
	k, cfg, err := compileKernel(ctx)
	if err != nil {
		return err
	}
	txs, err := loadTxs(ctx)
	if err != nil {
		return err
	}
	rt, err := runtime.New(k, &cfg.Runtime)
	if err != nil {
		return err
	}
	defer rt.Release()

	ex, err := execute(rt, txs)
	if err != nil {
		return err
	}
	writeOutcomeTable(ctx.App.Writer, ex.outcomes)
	bugs := runtime.Bugs(ex.signals)
	if len(bugs) > 0 {
		writeBugTable(ctx.App.Writer, bugs)
	}
	log.Info("Execution finished", "txs", len(txs), "launches", ex.launches, "bugs", len(bugs), "covered", ex.covered)
	return nil
}

func writeOutcomeTable(w io.Writer, outcomes []txOutcome) {
	var data [][]string
	for i, o := range outcomes {
		data = append(data, []string{
			fmt.Sprint(i),
			o.tx.Caller.Hex(),
			o.tx.CallValue.Dec(),
			hexOrEmpty(o.tx.Data),
			o.status,
			fmt.Sprint(o.fresh),
		})
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Tx", "Caller", "Value", "Calldata", "Status", "New coverage"})
	table.AppendBulk(data)
	table.Render()
}

func writeBugTable(w io.Writer, bugs []runtime.Bug) {
	var data [][]string
	for _, b := range bugs {
		data = append(data, []string{fmt.Sprint(b.PC), b.Sig.String()})
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"PC", "Bug"})
	table.AppendBulk(data)
	table.Render()
}

func hexOrEmpty(b []byte) string {
	if len(b) == 0 {
		return "-"
	}
	return common.Bytes2Hex(b)
}
