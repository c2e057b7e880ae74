package main

import "groupe-e-consumption/internal/cli"

func main() {
	cli.Execute()
}
