package main

import (
	"github.com/utkarsh5026/bulkload/cmd/bulkload/cmd"
)

func main() {
	cmd.Execute()
}
