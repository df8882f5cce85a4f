// Package main is the matcher load test binary. It seeds profiles into
// Redis, drives match requests over NATS and reports how quickly and how
// correctly the matcher pairs them.
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "match":
		runMatch(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  match       Pairs of tutors and learners request a match; measures time to match_found")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
