// Package main provides a one-shot utility for token signing key generation.
package main

import (
	"log"
	"os"

	"github.com/seminarhq/seminar/internal/tools/tokenkey"
)

func main() {
	if err := tokenkey.Run(os.Stdout, nil); err != nil {
		log.Fatalf("generate token key: %v", err)
	}
}
