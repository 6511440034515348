// initval prints the compile-time initial value of an internal data map
// (.data, .rodata, .bss, .kconfig) of a BPF object file as a hex dump.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/tcassar-diss/bpfbridge/bpf"
	"github.com/tcassar-diss/bpfbridge/bpf/diag"
	"github.com/urfave/cli/v2"
)

func main() {
	opts := &bpf.OpenOptions{}

	app := &cli.App{
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "btf",
				Usage:       "kernel BTF to use instead of the running kernel's",
				Destination: &opts.BTFPath,
			}, &cli.StringFlag{
				Name:        "kconfig",
				Usage:       "kernel config to use instead of the running kernel's",
				Destination: &opts.KConfigPath,
			}, &cli.BoolFlag{
				Name:  "raw",
				Usage: "write the raw bytes instead of a hex dump",
			},
		},
		Name:      "initval",
		ArgsUsage: "<object.o> <map>",
		Usage:     "dump the initial value of a BPF data map",
		Action: func(cCtx *cli.Context) error {
			if nArgs := cCtx.Args().Len(); nArgs != 2 {
				_ = cli.ShowAppHelp(cCtx)

				return cli.Exit(
					fmt.Sprintf("\nERROR: Wrong number of arguments! Expected 2, got %d", nArgs),
					1,
				)
			}

			diag.Install()

			value, err := initialValue(cCtx.Args().Get(0), cCtx.Args().Get(1), opts)
			if errors.Is(err, bpf.ErrMapNotFound) || errors.Is(err, bpf.ErrNoInitialValue) {
				return cli.Exit(err.Error(), 1)
			} else if err != nil {
				return cli.Exit(fmt.Sprintf("initval failed: %v", err), 2)
			}

			if cCtx.Bool("raw") {
				_, err = os.Stdout.Write(value)
				return err
			}

			fmt.Print(hex.Dump(value))

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func initialValue(path, mapName string, opts *bpf.OpenOptions) ([]byte, error) {
	bts, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	obj, err := bpf.Open(bts, opts)
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	m, err := obj.Map(mapName)
	if err != nil {
		return nil, err
	}

	size, err := m.InitialValueSize()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, size)

	n, err := m.ReadInitialValue(buf)
	if err != nil {
		return nil, err
	}

	return buf[:n], nil
}
