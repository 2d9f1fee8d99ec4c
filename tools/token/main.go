// Command token prints a signed bearer token for local development.
//
//	JWT_SECRET=secret go run ./tools/token -roles admin
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/supportdesk/core/access"
)

var (
	id       = flag.String("id", "", "the user id of the principal, random if empty")
	roles    = flag.String("roles", access.RoleUser, "comma separated roles")
	email    = flag.String("email", "", "the email of the principal")
	issuer   = flag.String("issuer", "", "the token issuer")
	validity = flag.Duration("validity", 24*time.Hour, "the validity of the token")
)

func main() {
	flag.Parse()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is not set")
		os.Exit(1)
	}

	auth := &access.Authorization{ID: uuid.New(), Roles: strings.Split(*roles, ",")}
	if *id != "" {
		var err error
		if auth.ID, err = uuid.Parse(*id); err != nil {
			fmt.Fprintln(os.Stderr, "invalid id:", err)
			os.Exit(1)
		}
	}
	if *email != "" {
		auth.Properties = map[string]string{"email": *email}
	}

	token, err := access.NewToken([]byte(secret), *issuer, auth, *validity)
	if err != nil {
		panic(err)
	}
	fmt.Println(token)
}
