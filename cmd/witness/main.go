// Command witness is the off-ledger half of the commit-reveal flow: it
// generates a fresh (secret, witness) pair for order placement, and signs
// execution authorizations once the maker decides which agent may fill.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/seinj0312/furu-limit-order-handler/pkg/crypto"
)

func main() {
	secretHex := flag.String("secret", "", "witness secret (hex); omit to generate a fresh pair")
	executor := flag.String("executor", "", "execution agent address to authorize")
	keyHex := flag.String("key", "", "commitment key of the order (0x-hex, 32 bytes)")
	flag.Parse()

	if *secretHex == "" {
		secret, witness, err := crypto.GenerateCommitment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Witness: %s\n", witness.Hex())
		fmt.Printf("Secret:  %s (KEEP OFF-LEDGER!)\n", secret.Hex())
		fmt.Println("\nPlace the order with the witness address, keep the secret.")
		fmt.Println("To authorize a fill later:")
		fmt.Println("  witness -secret <secret> -executor <agent> -key <commitment key>")
		return
	}

	if !common.IsHexAddress(*executor) {
		fmt.Fprintln(os.Stderr, "need -executor address to sign an authorization")
		os.Exit(1)
	}
	keyBytes, err := hexutil.Decode(*keyHex)
	if err != nil || len(keyBytes) != common.HashLength {
		fmt.Fprintln(os.Stderr, "need -key: the order's 32-byte commitment key")
		os.Exit(1)
	}

	secret, err := crypto.SecretFromHex(*secretHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "secret: %v\n", err)
		os.Exit(1)
	}

	digest := crypto.ExecutorDigest(common.HexToAddress(*executor), common.BytesToHash(keyBytes))
	sig, err := secret.SignDigest(digest.Bytes())
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Witness:   %s\n", secret.Witness().Hex())
	fmt.Printf("Executor:  %s\n", common.HexToAddress(*executor).Hex())
	fmt.Printf("Key:       %s\n", common.BytesToHash(keyBytes).Hex())
	fmt.Printf("Signature: %s\n", hexutil.Encode(sig))
}
