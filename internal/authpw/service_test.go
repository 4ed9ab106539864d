package authpw

import (
	"errors"
	"testing"
)

func TestValidateRegistration(t *testing.T) {
	cases := []struct {
		name     string
		username string
		email    string
		password string
		want     error
	}{
		{"valid", "avery", "avery@example.com", "longenough", nil},
		{"missing username", "", "avery@example.com", "longenough", ErrMissingFields},
		{"missing email", "avery", "", "longenough", ErrMissingFields},
		{"missing password", "avery", "avery@example.com", "", ErrMissingFields},
		{"bad email", "avery", "not-an-email", "longenough", ErrInvalidEmail},
		{"short password", "avery", "avery@example.com", "short", ErrPasswordTooShort},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRegistration(tc.username, tc.email, tc.password)
			if !errors.Is(err, tc.want) {
				t.Fatalf("ValidateRegistration() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "correct horse battery" {
		t.Fatal("hash must not equal the plaintext")
	}
	if err := CheckPassword(hash, "correct horse battery"); err != nil {
		t.Fatalf("CheckPassword() with right password: %v", err)
	}
	if err := CheckPassword(hash, "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("CheckPassword() with wrong password = %v, want ErrBadCredentials", err)
	}
}
