// Package naming implements the function-name codec that maps backend tools
// to agent-facing names of the form "{hash6}_{snake_case_function}".
//
// The hash is derived from the server identifier and its primary string (URL
// or command), so it is stable across restarts and independent of the order
// servers are declared in.
package naming

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"unicode"

	"github.com/cubicler/cubicler/pkg/models"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// HashLength is the fixed length of the server hash prefix.
const HashLength = 6

// Hash6 computes a 6-character lowercase base36 hash of the pair
// (identifier, primary). Identical inputs always produce identical output.
func Hash6(identifier, primary string) string {
	sum := sha256.Sum256([]byte(identifier + "\x00" + primary))
	n := binary.BigEndian.Uint64(sum[:8])

	var buf [HashLength]byte
	for i := HashLength - 1; i >= 0; i-- {
		buf[i] = base36[n%36]
		n /= 36
	}
	return string(buf[:])
}

// SnakeCase lowercases a camelCase or PascalCase name, inserting an
// underscore at every lower-to-upper boundary.
func SnakeCase(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)

	var prevLower bool
	for _, r := range name {
		if unicode.IsUpper(r) {
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
			continue
		}
		b.WriteRune(r)
		prevLower = unicode.IsLower(r)
	}
	return b.String()
}

// EncodeName produces the agent-facing tool name for a backend function.
func EncodeName(identifier, primary, function string) string {
	return Hash6(identifier, primary) + "_" + SnakeCase(function)
}

// DecodeName splits an agent-facing tool name into its server hash and
// function parts. It fails with models.ErrInvalidFunctionName when the name
// does not match the "{hash6}_{function}" shape.
func DecodeName(name string) (hash, function string, err error) {
	idx := strings.Index(name, "_")
	if idx != HashLength {
		return "", "", models.ErrInvalidFunctionName
	}
	hash = name[:HashLength]
	for i := 0; i < HashLength; i++ {
		c := hash[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'z') {
			return "", "", models.ErrInvalidFunctionName
		}
	}
	function = name[HashLength+1:]
	if function == "" {
		return "", "", models.ErrInvalidFunctionName
	}
	return hash, function, nil
}
