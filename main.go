package main

import (
	"futurecrop/internal/cli"
)

func main() {
	cli.Execute()
}
