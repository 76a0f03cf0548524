// Package main prints the bcrypt hash of a password. It is used to seed staff and
// admin accounts directly into the users table without running the server.
package main

import (
	"fmt"
	"os"

	"github.com/barangay-registry/civil-registry/internal/auth"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <password>\n", os.Args[0])
		os.Exit(2)
	}

	hash, err := auth.HashPassword(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
