package service

import (
	"errors"
	"os"
	"unicode"
	"unicode/utf8"
)

// Describe renders err the way the OS reports it, e.g.
// "No such file or directory - ./tmp/missing.txt".
func Describe(err error) string {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return capitalize(pe.Err.Error()) + " - " + pe.Path
	}
	return capitalize(err.Error())
}

func capitalize(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}
