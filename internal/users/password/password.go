// Package password wraps credential hashing for user creation. Policy
// (length, complexity) is enforced upstream of this package.
package password

import "golang.org/x/crypto/bcrypt"

// Hash returns a bcrypt hash of the plain password.
func Hash(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Compare checks a plain password against a stored hash.
func Compare(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}
