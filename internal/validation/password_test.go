package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePassword_Length(t *testing.T) {
	policy := DefaultPasswordPolicy()

	res := ValidatePassword("short", policy)
	assert.Equal(t, []string{CodePasswordLength}, codes(res.Errors))

	long := make([]byte, 257)
	for i := range long {
		long[i] = 'a'
	}
	res = ValidatePassword(string(long), policy)
	assert.Equal(t, []string{CodePasswordLength}, codes(res.Errors))
}

func TestValidatePassword_CommonDictionary(t *testing.T) {
	policy := DefaultPasswordPolicy()

	res := ValidatePassword("Password123", policy)
	// "password123" is in the dictionary: base drops to zero.
	assert.Equal(t, 0, res.Score)
	assert.Contains(t, res.Feedback, "avoid commonly used passwords")
	assert.Equal(t, []string{CodePasswordScore}, codes(res.Errors))
}

func TestValidatePassword_CustomDictionary(t *testing.T) {
	policy := DefaultPasswordPolicy()
	policy.CommonPasswords = map[string]struct{}{"companyname2024": {}}

	res := ValidatePassword("CompanyName2024", policy)
	assert.Equal(t, 0, res.Score)
}

func TestValidatePassword_Penalties(t *testing.T) {
	policy := DefaultPasswordPolicy()

	strong := ValidatePassword("kT9#mVq2$xWp", policy)
	sequenced := ValidatePassword("kT9#mVq2$abc", policy)
	assert.Less(t, sequenced.Score, strong.Score, "sequential run must cost a point")

	repeated := ValidatePassword("kT9#mVq2$xxx", policy)
	assert.Less(t, repeated.Score, strong.Score, "repeat run must cost a point")

	keyboard := ValidatePassword("kT9#mVq2$sdf", policy)
	assert.Less(t, keyboard.Score, strong.Score, "keyboard run must cost a point")
}

func TestValidatePassword_ScoreNeverNegative(t *testing.T) {
	policy := DefaultPasswordPolicy()
	policy.MinScore = 0

	// Stacks dictionary hit plus sequence, repeat and keyboard penalties.
	res := ValidatePassword("qwerty111abc", policy)
	assert.GreaterOrEqual(t, res.Score, 0)
	assert.LessOrEqual(t, res.Score, 4)
}

func TestValidatePassword_EntropyAndCrackTime(t *testing.T) {
	policy := DefaultPasswordPolicy()
	policy.MinScore = 0

	weak := ValidatePassword("aaaaaaaa", policy)
	strong := ValidatePassword("kT9#mVq2$xWpLu7!", policy)

	assert.Greater(t, strong.EntropyBits, weak.EntropyBits)
	assert.Greater(t, strong.CrackTimeSeconds, weak.CrackTimeSeconds)
	assert.Positive(t, strong.CrackTimeSeconds)
}

func TestValidatePassword_FeedbackSuggestsMissingClasses(t *testing.T) {
	policy := DefaultPasswordPolicy()
	policy.MinScore = 0

	res := ValidatePassword("lowercaseonly", policy)
	assert.Contains(t, res.Feedback, "add uppercase letters")
	assert.Contains(t, res.Feedback, "add digits")
	assert.Contains(t, res.Feedback, "add symbols")
	assert.NotContains(t, res.Feedback, "add lowercase letters")
}

func TestValidatePassword_AcceptsStrongPassword(t *testing.T) {
	res := ValidatePassword("kT9#mVq2$xWp", DefaultPasswordPolicy())
	assert.True(t, res.Valid(), "errors: %v", res.Errors)
	assert.GreaterOrEqual(t, res.Score, 2)
}

func TestSequentialRuns(t *testing.T) {
	assert.Equal(t, 0, sequentialRuns("acegik"))
	assert.Equal(t, 1, sequentialRuns("xxabcxx"))
	assert.Equal(t, 1, sequentialRuns("xx321xx"))
	assert.Equal(t, 2, sequentialRuns("abcxx321"))
	assert.Equal(t, 0, sequentialRuns("ababab"))
}

func TestRepeatRuns(t *testing.T) {
	assert.Equal(t, 0, repeatRuns("abab"))
	assert.Equal(t, 0, repeatRuns("aabb"))
	assert.Equal(t, 1, repeatRuns("aaab"))
	assert.Equal(t, 2, repeatRuns("aaabbbb"))
}

func TestKeyboardRuns(t *testing.T) {
	assert.Equal(t, 1, keyboardRuns("xqwex"))
	assert.Equal(t, 1, keyboardRuns("xrewx"), "reversed fragments count")
	assert.Equal(t, 0, keyboardRuns("xqxwxex"))
}
