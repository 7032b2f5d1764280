package main

import "lava-reports/internal/cli"

func main() {
	cli.Execute()
}
