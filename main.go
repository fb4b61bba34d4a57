package main

import (
	"github.com/evcc-io/idconnect/cmd"
)

func main() {
	cmd.Execute()
}
