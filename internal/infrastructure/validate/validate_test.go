package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldPrefixesErrors(t *testing.T) {
	v := Field("content", Required(), MaxLength(5))

	assert.NoError(t, v("hi"))
	assert.EqualError(t, v("  "), "content: this field is required")
	assert.EqualError(t, v("toolong"), "content: must be no more than 5 characters")
}

func TestMaxLengthCountsRunes(t *testing.T) {
	assert.NoError(t, MaxLength(2)("안녕"))
	assert.Error(t, MaxLength(2)(strings.Repeat("a", 3)))
}

func TestEmail(t *testing.T) {
	assert.NoError(t, Email()(""))
	assert.NoError(t, Email()("ai@wayne.ai"))
	assert.Error(t, Email()("not-an-email"))
}

func TestOneOf(t *testing.T) {
	v := OneOf("wayneAI", "consultingAI")
	assert.NoError(t, v("wayneAI"))
	assert.EqualError(t, v("other"), "must be one of: wayneAI, consultingAI")
}
