package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"provisioner/internal/ledger"

	"github.com/stellar/go/strkey"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: derive_address <app-id | strkey>")
		os.Exit(1)
	}

	arg := os.Args[1]

	// Numeric argument: print the address controlled by that application
	if appID, err := strconv.ParseUint(arg, 10, 64); err == nil {
		fmt.Println(ledger.ApplicationAddress(appID))
		return
	}

	// Otherwise decode an account (G...) or application (C...) address to hex
	version := strkey.VersionByteAccountID
	if ledger.IsApplicationAddress(arg) {
		version = strkey.VersionByteContract
	}
	raw, err := strkey.Decode(version, arg)
	if err != nil {
		fmt.Printf("Error decoding strkey: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", hex.EncodeToString(raw))
}
