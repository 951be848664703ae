package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	now := time.Now()
	issued, err := IssueToken(secret, NewClaims("usr_1", "org_1", "Avery", "jti-1", now, now.Add(time.Hour)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "usr_1" || claims.OrganizationID != "org_1" || claims.ID != "jti-1" || claims.Name != "Avery" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	now := time.Now()
	issued, err := IssueToken(secret, NewClaims("usr_1", "org_1", "Avery", "jti-1", now.Add(-time.Hour), now.Add(-time.Minute)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseToken(secret, issued)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("ParseToken() error = %v, want ErrExpiredToken", err)
	}
}

func TestParseTokenRejectsTampered(t *testing.T) {
	now := time.Now()
	issued, err := IssueToken([]byte("secret"), NewClaims("usr_1", "org_1", "", "jti-1", now, now.Add(time.Hour)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret error = %v, want ErrInvalidToken", err)
	}
	if _, err := ParseToken([]byte("secret"), issued+"x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered signature error = %v, want ErrInvalidToken", err)
	}
}

func TestParseTokenRejectsMissingClaims(t *testing.T) {
	secret := []byte("secret")
	now := time.Now()
	cases := map[string]Claims{
		"no subject": NewClaims("", "org_1", "", "jti-1", now, now.Add(time.Hour)),
		"no org":     NewClaims("usr_1", "", "", "jti-1", now, now.Add(time.Hour)),
		"no jti":     NewClaims("usr_1", "org_1", "", "", now, now.Add(time.Hour)),
	}
	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			issued, err := IssueToken(secret, claims)
			if err != nil {
				t.Fatalf("IssueToken() error = %v", err)
			}
			if _, err := ParseToken(secret, issued); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("ParseToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	now := time.Now()
	claims := NewClaims("usr_1", "org_1", "", "jti-1", now, now.Add(time.Hour))
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := ParseToken([]byte("secret"), unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ParseToken() error = %v, want ErrInvalidToken", err)
	}
}
