package main

import "github.com/absfs/vaultfs/cmd/vaultfs/cmd"

func main() {
	cmd.Execute()
}
