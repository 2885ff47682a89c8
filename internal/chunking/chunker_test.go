package chunking

import (
	"strings"
	"testing"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.ChunkerConfig {
	return config.ChunkerConfig{
		ProseMaxTokens:         100,
		CodeMaxTokens:          120,
		GuidelineMaxTokens:     80,
		UserMessageMaxTokens:   200,
		AgentResponseMaxTokens: 300,
		OverlapRatio:           0.15,
	}
}

func repeatSentence(s string, n int) string {
	return strings.TrimSpace(strings.Repeat(s+" ", n))
}

func TestSplitUserMessage(t *testing.T) {
	c := New(testConfig())

	t.Run("small message stored whole", func(t *testing.T) {
		chunks := c.Split("please fix the login handler", TypeUserMessage)
		require.Len(t, chunks, 1)
		assert.Equal(t, 0, chunks[0].Index)
		assert.Equal(t, 1, chunks[0].Total)
	})

	t.Run("oversized message topically chunked", func(t *testing.T) {
		long := repeatSentence("This paragraph discusses one of several separate concerns in detail.", 60)
		chunks := c.Split(long, TypeUserMessage)
		require.Greater(t, len(chunks), 1)
		for _, ch := range chunks {
			assert.LessOrEqual(t, tokens.Count(ch.Content), 200)
			assert.Equal(t, len(chunks), ch.Total)
		}
	})
}

func TestSplitGuidelineAlwaysChunks(t *testing.T) {
	c := New(testConfig())

	content := "# Style\n\nUse short names.\n\n# Errors\n\nWrap with context.\n\n" +
		repeatSentence("Every exported function carries a doc comment explaining its contract.", 30)
	chunks := c.Split(content, TypeGuideline)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, tokens.Count(ch.Content), 80, "chunk %d over budget", ch.Index)
	}
}

func TestSplitProse(t *testing.T) {
	c := New(testConfig())

	t.Run("paragraph boundaries preserved", func(t *testing.T) {
		content := "First paragraph stands alone.\n\nSecond paragraph also stands alone."
		chunks := c.Split(content, TypeProse)
		require.Len(t, chunks, 1) // both fit one chunk
		assert.Contains(t, chunks[0].Content, "First paragraph")
		assert.Contains(t, chunks[0].Content, "Second paragraph")
	})

	t.Run("oversized paragraph split at sentences", func(t *testing.T) {
		content := repeatSentence("A sentence that is long enough to matter for budget accounting here.", 40)
		chunks := c.Split(content, TypeProse)
		require.Greater(t, len(chunks), 1)
		for _, ch := range chunks {
			assert.LessOrEqual(t, tokens.Count(ch.Content), 100)
		}
	})

	t.Run("pathological sentence split at words", func(t *testing.T) {
		content := strings.TrimSpace(strings.Repeat("word ", 600)) // no sentence ends
		chunks := c.Split(content, TypeProse)
		require.Greater(t, len(chunks), 1)
		for _, ch := range chunks {
			assert.LessOrEqual(t, tokens.Count(ch.Content), 100)
		}
	})

	t.Run("overlap marker present and within budget", func(t *testing.T) {
		content := repeatSentence("Overlap feeding sentence with enough words to spill over chunks.", 50)
		chunks := c.Split(content, TypeProse)
		require.Greater(t, len(chunks), 1)
		overlapped := 0
		for _, ch := range chunks[1:] {
			if strings.HasPrefix(ch.Content, OverlapMarker) {
				overlapped++
			}
			assert.LessOrEqual(t, tokens.Count(ch.Content), 100)
		}
		assert.Greater(t, overlapped, 0)
	})
}

func TestSplitCode(t *testing.T) {
	c := New(testConfig())

	var b strings.Builder
	for i := 0; i < 12; i++ {
		b.WriteString("func handler")
		b.WriteByte(byte('A' + i))
		b.WriteString("(w http.ResponseWriter, r *http.Request) {\n")
		for j := 0; j < 5; j++ {
			b.WriteString("\tresult := compute(r.Context(), parseInput(r), defaultOptions())\n")
		}
		b.WriteString("}\n\n")
	}

	chunks := c.Split(b.String(), TypeCode)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, tokens.Count(ch.Content), 120)
	}
	// Declaration boundaries: chunks should start at function starts, not
	// mid-body, except when a single function overflows the budget.
	startsAtDecl := 0
	for _, ch := range chunks {
		if strings.HasPrefix(strings.TrimSpace(ch.Content), "func ") {
			startsAtDecl++
		}
	}
	assert.Greater(t, startsAtDecl, len(chunks)/2)
}

func TestSplitErrorContextUntouched(t *testing.T) {
	c := New(testConfig())
	content := "Error: something broke\n" + strings.Repeat("stack frame line\n", 200)
	chunks := c.Split(content, TypeErrorContext)
	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0].Content)
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		content string
		want    ContentType
	}{
		{"go file extension", "internal/server/main.go", "package main", TypeCode},
		{"markdown extension", "README.md", "# Title", TypeProse},
		{"python traceback", "", "Traceback (most recent call last):\n  File \"x.py\"", TypeErrorContext},
		{"go panic", "", "panic: runtime error: index out of range", TypeErrorContext},
		{"code shape", "", "func main() {\n\tx := 1\n\ty := 2\n\tfmt.Println(x + y)\n}", TypeCode},
		{"plain prose", "", "We decided to adopt the simpler design because it reads better.", TypeProse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.path, tt.content))
		})
	}
}
