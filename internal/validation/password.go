package validation

import (
	"fmt"
	"math"
	"strings"
)

// PasswordPolicy configures strength requirements.
type PasswordPolicy struct {
	MinLength int
	MaxLength int
	// MinScore is the minimum acceptable score on the 0-4 scale.
	MinScore int
	// CommonPasswords supplements the built-in dictionary.
	CommonPasswords map[string]struct{}
}

// DefaultPasswordPolicy returns the policy the core applies unless the host
// overrides it.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 8, MaxLength: 256, MinScore: 2}
}

// PasswordResult carries the score breakdown and constructive feedback.
type PasswordResult struct {
	// Score is the zxcvbn-style strength score, 0 (guessable) to 4 (strong).
	Score int
	// EntropyBits is the Shannon entropy of the adaptive character pool.
	EntropyBits float64
	// CrackTimeSeconds estimates offline cracking at 10^10 guesses/second.
	CrackTimeSeconds float64
	Feedback         []string
	Errors           []FieldError
}

// Valid returns true when no validation errors were recorded.
func (r PasswordResult) Valid() bool { return len(r.Errors) == 0 }

const crackGuessesPerSecond = 1e10

// ValidatePassword scores a candidate password: pool entropy against a
// common-password dictionary, with penalties for sequential runs, repeat
// runs and keyboard patterns. The final score is max(0, base - penalties).
func ValidatePassword(password string, policy PasswordPolicy) PasswordResult {
	res := PasswordResult{}

	minLen, maxLen := policy.MinLength, policy.MaxLength
	if minLen <= 0 {
		minLen = 8
	}
	if maxLen <= 0 {
		maxLen = 256
	}

	if len(password) < minLen || len(password) > maxLen {
		res.Errors = append(res.Errors, FieldError{
			Code:    CodePasswordLength,
			Message: fmt.Sprintf("password must be between %d and %d characters", minLen, maxLen),
		})
		return res
	}

	res.EntropyBits = poolEntropy(password)
	res.CrackTimeSeconds = math.Exp2(res.EntropyBits) / crackGuessesPerSecond

	base := baseScore(res.EntropyBits)

	lowered := strings.ToLower(password)
	if isCommonPassword(lowered, policy.CommonPasswords) {
		base = 0
		res.Feedback = append(res.Feedback, "avoid commonly used passwords")
	}

	penalties := 0
	if n := sequentialRuns(lowered); n > 0 {
		penalties += n
		res.Feedback = append(res.Feedback, "avoid sequences like abc or 123")
	}
	if n := repeatRuns(password); n > 0 {
		penalties += n
		res.Feedback = append(res.Feedback, "avoid repeated characters like aaa")
	}
	if n := keyboardRuns(lowered); n > 0 {
		penalties += n
		res.Feedback = append(res.Feedback, "avoid keyboard patterns like qwerty")
	}

	// The score never goes below zero however many penalties stack.
	score := base - penalties
	if score < 0 {
		score = 0
	}
	res.Score = score

	if !hasClass(password, isLower) {
		res.Feedback = append(res.Feedback, "add lowercase letters")
	}
	if !hasClass(password, isUpper) {
		res.Feedback = append(res.Feedback, "add uppercase letters")
	}
	if !hasClass(password, isDigit) {
		res.Feedback = append(res.Feedback, "add digits")
	}
	if !hasClass(password, isSymbol) {
		res.Feedback = append(res.Feedback, "add symbols")
	}

	if res.Score < policy.MinScore {
		res.Errors = append(res.Errors, FieldError{
			Code:    CodePasswordScore,
			Message: fmt.Sprintf("password strength %d is below the required %d", res.Score, policy.MinScore),
		})
	}

	return res
}

func isLower(r rune) bool  { return r >= 'a' && r <= 'z' }
func isUpper(r rune) bool  { return r >= 'A' && r <= 'Z' }
func isDigit(r rune) bool  { return r >= '0' && r <= '9' }
func isSymbol(r rune) bool { return !isLower(r) && !isUpper(r) && !isDigit(r) }

func hasClass(s string, class func(rune) bool) bool {
	for _, r := range s {
		if class(r) {
			return true
		}
	}
	return false
}

// poolEntropy computes length * log2(pool) where the pool adapts to the
// character classes actually present: 26 lower, 26 upper, 10 digits,
// 32 symbols.
func poolEntropy(password string) float64 {
	pool := 0
	if hasClass(password, isLower) {
		pool += 26
	}
	if hasClass(password, isUpper) {
		pool += 26
	}
	if hasClass(password, isDigit) {
		pool += 10
	}
	if hasClass(password, isSymbol) {
		pool += 32
	}
	if pool == 0 {
		return 0
	}
	return float64(len(password)) * math.Log2(float64(pool))
}

func baseScore(entropyBits float64) int {
	switch {
	case entropyBits < 28:
		return 0
	case entropyBits < 36:
		return 1
	case entropyBits < 60:
		return 2
	case entropyBits < 100:
		return 3
	default:
		return 4
	}
}

func isCommonPassword(lowered string, extra map[string]struct{}) bool {
	if _, ok := builtinCommonPasswords[lowered]; ok {
		return true
	}
	if extra != nil {
		if _, ok := extra[lowered]; ok {
			return true
		}
	}
	return false
}

// sequentialRuns counts runs of 3+ consecutively ascending or descending
// characters (abc, 321).
func sequentialRuns(s string) int {
	return countRuns(s, func(prev, cur byte) bool {
		return cur == prev+1 || cur == prev-1
	})
}

// repeatRuns counts runs of 3+ identical characters.
func repeatRuns(s string) int {
	return countRuns(s, func(prev, cur byte) bool {
		return cur == prev
	})
}

// countRuns walks the string counting maximal runs of length >= 3 where
// adjacent characters satisfy the step predicate in a consistent direction.
func countRuns(s string, step func(prev, cur byte) bool) int {
	runs := 0
	runLen := 1
	for i := 1; i < len(s); i++ {
		if step(s[i-1], s[i]) && (runLen < 2 || continuesDirection(s[i-2], s[i-1], s[i])) {
			runLen++
			continue
		}
		if runLen >= 3 {
			runs++
		}
		runLen = 1
	}
	if runLen >= 3 {
		runs++
	}
	return runs
}

// continuesDirection keeps ascending runs ascending and descending runs
// descending so "aba" does not count as a run of three.
func continuesDirection(a, b, c byte) bool {
	return int(b)-int(a) == int(c)-int(b)
}

// Digit rows are left out: ascending digit runs are already counted as
// sequential runs.
var keyboardRows = []string{
	"qwertyuiop",
	"asdfghjkl",
	"zxcvbnm",
}

// keyboardRuns counts distinct keyboard-row fragments of length >= 3
// appearing forwards or backwards.
func keyboardRuns(lowered string) int {
	runs := 0
	for _, row := range keyboardRows {
		reversed := reverse(row)
		for i := 0; i+3 <= len(row); i++ {
			frag := row[i : i+3]
			if strings.Contains(lowered, frag) {
				runs++
				break
			}
			if strings.Contains(lowered, reversed[len(row)-i-3:len(row)-i]) {
				runs++
				break
			}
		}
	}
	return runs
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// builtinCommonPasswords is a compact slice of the most frequently seen
// breached passwords. Hosts extend it through PasswordPolicy.
var builtinCommonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {}, "passw0rd": {},
	"123456": {}, "1234567": {}, "12345678": {}, "123456789": {}, "1234567890": {},
	"qwerty": {}, "qwerty123": {}, "qwertyuiop": {}, "abc123": {}, "iloveyou": {},
	"admin": {}, "admin123": {}, "welcome": {}, "welcome1": {}, "letmein": {},
	"monkey": {}, "dragon": {}, "sunshine": {}, "princess": {}, "football": {},
	"baseball": {}, "superman": {}, "batman": {}, "trustno1": {}, "master": {},
	"shadow": {}, "michael": {}, "jennifer": {}, "jordan": {}, "hunter2": {},
	"654321": {}, "666666": {}, "696969": {}, "111111": {}, "000000": {},
	"secret": {}, "freedom": {}, "whatever": {}, "starwars": {}, "pokemon": {},
}
