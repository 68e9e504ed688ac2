// Package main provides the entry point for the test-runner CLI.
package main

import "yqhp/test-runner/cmd"

func main() {
	cmd.Execute()
}
