package vw

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	cv "github.com/nirasan/go-oauth-pkce-code-verifier"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomString returns a random alphanumeric string of given length
func RandomString(n int) string {
	var b strings.Builder
	max := big.NewInt(int64(len(alphabet)))

	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}

	return b.String()
}

// Nonce returns a time based nonce for the authorize request
func Nonce() string {
	ts := strconv.FormatInt(time.Now().UnixNano(), 10) + RandomString(8)
	hash := sha256.Sum256([]byte(ts))
	return strings.TrimRight(base64.StdEncoding.EncodeToString(hash[:]), "=")
}

// State returns a random authorize state
func State() string {
	return uuid.NewString()
}

// ChallengeAndVerifier returns a fresh PKCE S256 code verifier and challenge pair
func ChallengeAndVerifier() (string, string) {
	verifier, err := cv.CreateCodeVerifier()
	if err != nil {
		panic(err)
	}

	return verifier.String(), verifier.CodeChallengeS256()
}
