package codeblock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_Labels(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		language string
		filename string
		code     string
	}{
		{
			name:     "slash comment",
			text:     "Here:\n```javascript\n// filename: server.js\nconsole.log(1)\n```\n",
			language: "javascript",
			filename: "server.js",
			code:     "console.log(1)\n",
		},
		{
			name:     "hash comment",
			text:     "```python\n# filename: app/main.py\nprint('hi')\n```",
			language: "python",
			filename: "app/main.py",
			code:     "print('hi')\n",
		},
		{
			name:     "sql comment",
			text:     "```sql\n-- FILENAME: schema.sql\nCREATE TABLE t (id int);\n```",
			language: "sql",
			filename: "schema.sql",
			code:     "CREATE TABLE t (id int);\n",
		},
		{
			name:     "html comment",
			text:     "```html\n<!-- filename: index.html -->\n<p>hi</p>\n```",
			language: "html",
			filename: "index.html",
			code:     "<p>hi</p>\n",
		},
		{
			name: "no label",
			text: "```\nls -la\n```",
			code: "ls -la\n",
		},
		{
			name:     "label not on first line",
			text:     "```go\npackage main\n// filename: main.go\n```",
			language: "go",
			code:     "package main\n// filename: main.go\n",
		},
		{
			name:     "crlf",
			text:     "```ts\r\n// filename: a.ts\r\nlet x = 1\r\n```",
			language: "ts",
			filename: "a.ts",
			code:     "let x = 1\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := Extract(tt.text)
			require.Len(t, blocks, 1)
			assert.Equal(t, tt.language, blocks[0].Language)
			assert.Equal(t, tt.filename, blocks[0].Filename)
			assert.Equal(t, tt.code, blocks[0].Code)
		})
	}
}

func TestExtract_Multiple(t *testing.T) {
	text := "first\n```js\n// filename: a.js\na()\n```\nthen\n```js\n// filename: b.js\nb()\n```\ntrailing ```js\nunterminated"
	blocks := Extract(text)
	require.Len(t, blocks, 2)
	assert.Equal(t, "a.js", blocks[0].Filename)
	assert.Equal(t, "b.js", blocks[1].Filename)
}

func TestExtract_None(t *testing.T) {
	assert.Empty(t, Extract("no code here"))
	assert.Empty(t, Extract("```js\nnever closed"))
}
