// Команда hashpassword печатает bcrypt-хеш пароля для admin.password_hash.
//
//	echo -n 'password' | hashpassword
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/magabrotheeeer/counsel-bot/internal/lib/password"
)

func main() {
	raw, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && raw == "" {
		fmt.Fprintln(os.Stderr, "password is expected on stdin")
		os.Exit(1)
	}
	raw = strings.TrimRight(raw, "\r\n")
	if raw == "" {
		fmt.Fprintln(os.Stderr, "password must not be empty")
		os.Exit(1)
	}

	hash, err := password.GetHash(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
