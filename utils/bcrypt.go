package utils

import "golang.org/x/crypto/bcrypt"

// HashPassword hashes the one-time secrets generated during delegated
// catalog account creation; only the hash is ever written to the user
// directory.
func HashPassword(s string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
}

func ComparePassword(hashed string, normal string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(normal))
}
