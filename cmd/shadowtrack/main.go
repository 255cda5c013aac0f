package main

import (
	"io"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "shadowtrack: "+err.Error()+"\n"); writeErr != nil {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
