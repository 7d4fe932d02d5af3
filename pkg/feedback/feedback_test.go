package feedback

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialClock() func() int64 {
	var n int64
	return func() int64 {
		n++
		return n
	}
}

func TestAddAndLen(t *testing.T) {
	m := New(sequentialClock())
	m.Add(TypeValidationFailure, "missing field x", 1)
	m.Add(TypeJudgeSoftFailure, "tone too casual", 1)
	assert.Equal(t, 2, m.Len())
}

func TestGetForPromptEmptyIsLegal(t *testing.T) {
	m := New(sequentialClock())
	assert.Equal(t, "", m.GetForPrompt(1000))
}

func TestGetForPromptPreservesChronologicalOrderWithinWindow(t *testing.T) {
	m := New(sequentialClock())
	m.Add(TypeValidationFailure, "first", 1)
	m.Add(TypeValidationFailure, "second", 1)
	m.Add(TypeValidationFailure, "third", 2)

	out := m.GetForPrompt(1000)
	iFirst := strings.Index(out, "first")
	iSecond := strings.Index(out, "second")
	iThird := strings.Index(out, "third")
	require.True(t, iFirst >= 0 && iSecond >= 0 && iThird >= 0)
	assert.Less(t, iFirst, iSecond)
	assert.Less(t, iSecond, iThird)
}

func TestGetForPromptDropsOldestWhenOverBudget(t *testing.T) {
	m := New(sequentialClock())
	m.Add(TypeValidationFailure, strings.Repeat("a", 40), 1)
	m.Add(TypeValidationFailure, strings.Repeat("b", 40), 2)
	m.Add(TypeValidationFailure, strings.Repeat("c", 40), 3)

	// Budget only large enough for the newest entry (each formatted line
	// is 69 characters, estimated at 18 tokens).
	out := m.GetForPrompt(20)
	assert.Contains(t, out, "ccc")
	assert.NotContains(t, out, "aaa")
}

func TestGetForPromptFiltersByType(t *testing.T) {
	m := New(sequentialClock())
	m.Add(TypeValidationFailure, "validation problem", 1)
	m.Add(TypeJudgeHardFailure, "judge rejected", 1)

	out := m.GetForPrompt(1000, TypeJudgeHardFailure)
	assert.Contains(t, out, "judge rejected")
	assert.NotContains(t, out, "validation problem")
}

func TestGetForPromptOverCapacitySingleEntryYieldsEmpty(t *testing.T) {
	m := New(sequentialClock())
	m.Add(TypeValidationFailure, strings.Repeat("x", 4000), 1)

	assert.Equal(t, "", m.GetForPrompt(1))
}
