package main

import (
	"nlroute/cmd"

	_ "nlroute/pkg/plugins/builtin"
)

func main() {
	cmd.Execute()
}
