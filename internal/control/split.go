package control

import (
	"fmt"
	"strings"
)

// Split breaks a command line into words. Words are separated by spaces
// or tabs; single or double quotes group a word that contains spaces, and a
// backslash escapes the next character outside single quotes.
func Split(line string) ([]string, error) {
	var (
		words   []string
		current strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)

	for _, r := range line {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inWord = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if inWord {
				words = append(words, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(r)
			inWord = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated %c quote", ErrUsage, quote)
	}
	if escaped {
		return nil, fmt.Errorf("%w: trailing backslash", ErrUsage)
	}
	if inWord {
		words = append(words, current.String())
	}
	return words, nil
}
