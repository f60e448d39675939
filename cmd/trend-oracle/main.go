package main

import "trend-oracle/internal/cli"

func main() {
	cli.Execute()
}
