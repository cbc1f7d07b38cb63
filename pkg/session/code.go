// SPDX-License-Identifier: Apache-2.0

package session

import "crypto/rand"

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// CodeLength is the length of authorization and refresh codes.
const CodeLength = 16

// GenerateCode returns a random alphanumeric code. Uniqueness is enforced
// by the store's first-writer-wins insert, not by the generator.
func GenerateCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
