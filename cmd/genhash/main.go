// Prints a bcrypt hash for the admin password, suitable for ADMIN_PASSWORD_HASH
package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: genhash <password>")
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(os.Args[1]), bcrypt.DefaultCost)
	if err != nil {
		fmt.Printf("error while hashing password: %v", err)
		os.Exit(1)
	}

	fmt.Println(string(hash))
}
