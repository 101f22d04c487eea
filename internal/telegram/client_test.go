package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitText(t *testing.T) {
	t.Run("short text stays whole", func(t *testing.T) {
		parts := SplitText("hello", 100)
		assert.Equal(t, []string{"hello"}, parts)
	})

	t.Run("splits on newline boundary", func(t *testing.T) {
		text := strings.Repeat("a", 50) + "\n" + strings.Repeat("b", 80)
		parts := SplitText(text, 100)

		require.Len(t, parts, 2)
		assert.Equal(t, strings.Repeat("a", 50), parts[0])
		assert.Equal(t, strings.Repeat("b", 80), parts[1])
	})

	t.Run("hard split without newlines", func(t *testing.T) {
		text := strings.Repeat("x", 250)
		parts := SplitText(text, 100)

		require.Len(t, parts, 3)
		assert.Len(t, parts[0], 100)
		assert.Len(t, parts[1], 100)
		assert.Len(t, parts[2], 50)
	})

	t.Run("every part within limit", func(t *testing.T) {
		text := strings.Repeat("word word word\n", 500)
		for _, part := range SplitText(text, 120) {
			assert.LessOrEqual(t, len(part), 120)
		}
	})

	t.Run("never cuts a rune in half", func(t *testing.T) {
		// 3-byte runes with a limit that is not a multiple of 3
		text := strings.Repeat("日", 2000)
		parts := SplitText(text, 4096)

		var rejoined string
		for _, part := range parts {
			assert.True(t, utf8.ValidString(part))
			assert.LessOrEqual(t, len(part), 4096)
			rejoined += part
		}
		assert.Equal(t, text, rejoined, "no bytes lost at chunk boundaries")
	})

	t.Run("multibyte with small limit", func(t *testing.T) {
		parts := SplitText(strings.Repeat("héé", 20), 7)
		for _, part := range parts {
			assert.True(t, utf8.ValidString(part))
			assert.LessOrEqual(t, len(part), 7)
		}
	})
}

func TestExtractRetryAfter(t *testing.T) {
	assert.Equal(t, 17, extractRetryAfter("Too Many Requests: retry after 17"))
	assert.Equal(t, 0, extractRetryAfter("some other error"))
}
