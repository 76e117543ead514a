package main

import "github.com/zathomas/sparsemapcontent/cmd/sparse/cmd"

func main() {
	cmd.Execute()
}
