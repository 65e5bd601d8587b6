package order

import (
	"time"

	"github.com/go-faster/errors"
	nanoid "github.com/jaevor/go-nanoid"
)

// codeAlphabet omits characters that are easy to confuse when read over the
// phone (0/O, 1/I/L).
const (
	codeAlphabet  = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	codeSuffixLen = 4
	codeLayout    = "060102150405"
)

// CodeGenerator produces order codes for a creation time.
type CodeGenerator func(t time.Time) string

// NewCodeGenerator returns a generator of codes shaped ORDyyMMddHHmmssXXXX,
// where the suffix is random.
func NewCodeGenerator() (CodeGenerator, error) {
	suffix, err := nanoid.CustomASCII(codeAlphabet, codeSuffixLen)
	if err != nil {
		return nil, errors.Wrap(err, "create code suffix generator")
	}
	return func(t time.Time) string {
		return "ORD" + t.UTC().Format(codeLayout) + suffix()
	}, nil
}
