package main

import "github.com/jahabrewer/gosac/examples"

func main() {
	examples.SACPendulum()
}
