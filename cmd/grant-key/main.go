// Package main provides a one-shot utility for participant grant keys.
//
// With no arguments it emits the Ed25519 key pair the authority verifies
// grants with; "issue -participant alice,bob" mints grants from it.
package main

import (
	"os"

	"github.com/mughalz/investordefend/internal/platform/config"
	"github.com/mughalz/investordefend/internal/tools/grantkey"
)

func main() {
	if err := grantkey.Run(os.Args[1:], os.Stdout, nil); err != nil {
		config.Exitf("grant key: %v", err)
	}
}
