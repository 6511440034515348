package main

import "github.com/tcassar-diss/bpfbridge/cmd"

func main() {
	cmd.Execute()
}
