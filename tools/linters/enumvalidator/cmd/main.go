package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"postdeck.app/connect/tools/linters/enumvalidator"
)

func main() {
	singlechecker.Main(enumvalidator.Analyzer)
}
