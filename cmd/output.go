package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
	colorRed   = "\033[0;31m"
	colorGreen = "\033[0;32m"
	colorCyan  = "\033[0;36m"
)

var useColor = term.IsTerminal(int(os.Stdout.Fd()))

func paint(color, s string) string {
	if !useColor {
		return s
	}
	return color + s + colorReset
}

// Print helper functions for consistent output formatting.
func printHeader(title string) {
	line := "========================================"
	fmt.Println(paint(colorBold+colorCyan, line))
	fmt.Println(paint(colorBold+colorCyan, "       "+title))
	fmt.Println(paint(colorBold+colorCyan, line))
	fmt.Println()
}

func printSuccess(msg string) {
	fmt.Printf("%s %s\n", paint(colorGreen, "[OK]"), msg)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", paint(colorRed, "[ERROR]"), msg)
}

func printStep(msg string) {
	fmt.Printf("%s %s\n", paint(colorCyan, ">>>"), msg)
}
