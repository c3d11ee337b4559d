package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFamilyForPath(t *testing.T) {
	assert.Equal(t, FamilyIndent, FamilyForPath("a/b.py"))
	assert.Equal(t, FamilyIndent, FamilyForPath("lib.RB"))
	assert.Equal(t, FamilyBrace, FamilyForPath("main.go"))
	assert.Equal(t, FamilyBrace, FamilyForPath("index.ts"))
	assert.Equal(t, FamilyBrace, FamilyForPath("Main.java"))
	assert.Equal(t, "indent", FamilyIndent.String())
	assert.Equal(t, "brace", FamilyBrace.String())
}

func TestStarterSplitter(t *testing.T) {
	tests := []struct {
		name   string
		family LanguageFamily
		text   string
		want   []string
	}{
		{
			name:   "preamble forms its own block",
			family: FamilyIndent,
			text:   "import os\ndef f():\n  pass",
			want:   []string{"import os", "def f():\n  pass"},
		},
		{
			name:   "indented methods start blocks",
			family: FamilyIndent,
			text:   "class A:\n    def a(self):\n        pass\n    def b(self):\n        pass",
			want:   []string{"class A:", "def a(self):\n        pass", "def b(self):\n        pass"},
		},
		{
			name:   "js declarations",
			family: FamilyBrace,
			text:   "const a = 1\nfunction f() {\n  return a\n}\nexport default f",
			want:   []string{"const a = 1", "function f() {\n  return a\n}", "export default f"},
		},
		{
			name:   "no starters",
			family: FamilyBrace,
			text:   "x = 1\ny = 2",
			want:   []string{"x = 1\ny = 2"},
		},
		{
			name:   "starter must be a word",
			family: FamilyIndent,
			text:   "define = 1\nclassy = 2",
			want:   []string{"define = 1\nclassy = 2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitterFor(tt.family).Split(tt.text))
		})
	}
}

func TestExtractNotebookText(t *testing.T) {
	t.Run("not json is returned unchanged", func(t *testing.T) {
		assert.Equal(t, "# code cell\nx", ExtractNotebookText("# code cell\nx"))
	})

	t.Run("invalid json is returned unchanged", func(t *testing.T) {
		assert.Equal(t, "{broken", ExtractNotebookText("{broken"))
	})

	t.Run("cells flattened", func(t *testing.T) {
		nb := `{"cells":[{"cell_type":"code","source":["a = 1\n","b = 2"]},{"cell_type":"markdown","source":"hi"}]}`
		assert.Equal(t, "# code cell\na = 1\nb = 2\n\n# markdown cell\nhi", ExtractNotebookText(nb))
	})
}
