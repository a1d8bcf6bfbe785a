package smtpsink

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
)

var errAuthFailed = errors.New("authentication failed")

// credentials checks SMTP AUTH responses against one configured account.
// The zero value accepts no AUTH and requires none.
type credentials struct {
	username string
	password string
}

func (c credentials) enabled() bool {
	return c.username != "" || c.password != ""
}

// verifyPlain checks a base64 AUTH PLAIN response (authzid\0user\0pass).
func (c credentials) verifyPlain(encoded string) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return errors.New("invalid base64 encoding")
	}
	fields := strings.SplitN(string(decoded), "\x00", 3)
	if len(fields) != 3 {
		return errors.New("invalid AUTH PLAIN format")
	}
	return c.check(fields[1], fields[2])
}

// verifyLogin checks the two base64 answers of an AUTH LOGIN exchange.
func (c credentials) verifyLogin(encodedUser, encodedPass string) error {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return errors.New("invalid base64 username")
	}
	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return errors.New("invalid base64 password")
	}
	return c.check(string(user), string(pass))
}

func (c credentials) check(user, pass string) error {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(c.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(c.password)) == 1
	if !userOK || !passOK {
		return errAuthFailed
	}
	return nil
}
