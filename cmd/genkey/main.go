package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
)

func main() {
	size := flag.Int("bytes", 32, "secret length in bytes")
	flag.Parse()

	if *size < 32 {
		fmt.Fprintln(os.Stderr, "secret must be at least 32 bytes")
		os.Exit(1)
	}

	secret := make([]byte, *size)
	if _, err := rand.Read(secret); err != nil {
		panic(err)
	}

	fmt.Printf("JWT_SECRET=%s\n", base64.RawURLEncoding.EncodeToString(secret))
}
