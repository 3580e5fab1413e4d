package main

import forge "github.com/a2y-d5l/release-forge"

func main() {
	forge.Run()
}
