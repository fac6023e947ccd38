package main

import "github.com/edgeflare/txaction/cmd/txaction"

func main() {
	txaction.Main()
}
