package main

import (
	"github.com/spwatcher/spwatcher/internal/cli"
)

func main() {
	cli.Execute()
}
