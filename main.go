package main

import (
	"github.com/sablewing/modelgrab/cmd"
)

func main() {
	cmd.Execute()
}
