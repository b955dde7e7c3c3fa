// Package main is the entry point for the evntfy event pipeline.
package main

func main() {
	Execute()
}
