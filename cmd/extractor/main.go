// Package main provides the entry point for the website extractor CLI.
//
// Usage:
//
//	extractor crawl https://example.com --depth 2
//	extractor serve --addr :5000
//
// See --help for all available options.
package main

func main() {
	Execute()
}
