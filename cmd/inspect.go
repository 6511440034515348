package cmd

import (
	"fmt"
	"os"
	"slices"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"github.com/tcassar-diss/bpfbridge/bpf"
)

type mapInfo struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	ValueSize        uint32 `json:"value_size"`
	MaxEntries       uint32 `json:"max_entries"`
	InitialValueSize int    `json:"initial_value_size,omitempty"`
}

type objectInfo struct {
	Name     string    `json:"name"`
	Programs []string  `json:"programs"`
	Maps     []mapInfo `json:"maps"`
}

var inspectOpts bpf.OpenOptions

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect OBJECT",
	Short: "Print the maps and programs of a BPF object file as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bts, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read object: %w", err)
		}

		obj, err := bpf.Open(bts, &inspectOpts)
		if err != nil {
			return err
		}
		defer obj.Close()

		info, err := describe(obj)
		if err != nil {
			return err
		}

		out, err := sonic.MarshalString(info)
		if err != nil {
			return fmt.Errorf("failed to marshal object info to json: %w", err)
		}

		fmt.Println(out)

		return nil
	},
}

func describe(obj *bpf.Object) (*objectInfo, error) {
	info := &objectInfo{
		Name:     obj.Name(),
		Programs: []string{},
		Maps:     []mapInfo{},
	}

	for name := range obj.Spec().Programs {
		info.Programs = append(info.Programs, name)
	}
	slices.Sort(info.Programs)

	for _, name := range obj.Maps() {
		m, err := obj.Map(name)
		if err != nil {
			return nil, err
		}

		spec := m.Spec()

		mi := mapInfo{
			Name:       name,
			Type:       spec.Type.String(),
			ValueSize:  spec.ValueSize,
			MaxEntries: spec.MaxEntries,
		}

		if size, err := m.InitialValueSize(); err == nil {
			mi.InitialValueSize = size
		}

		info.Maps = append(info.Maps, mi)
	}

	return info, nil
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVar(&inspectOpts.BTFPath, "btf", "", "kernel BTF to use instead of the running kernel's")
	inspectCmd.Flags().StringVar(&inspectOpts.KConfigPath, "kconfig", "", "kernel config to use instead of the running kernel's")
	inspectCmd.Flags().StringVar(&inspectOpts.ObjectName, "name", "", "object name (default derived from the file contents)")
}
