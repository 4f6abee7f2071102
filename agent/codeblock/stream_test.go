package codeblock

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureStream(t *testing.T) {
	c := NewCaptureStream()
	var flushed []string
	c.SetFlushListener(func(out string) { flushed = append(flushed, out) })

	c.Print(" ", "", true, "Hello,", "world!")
	c.Print(" ", "\n", false, "This", "is", "buffered")
	assert.Equal(t, []string{"Hello, world!"}, flushed)
	assert.Equal(t, "Hello, world!", c.Output())

	fmt.Fprint(c, " more")
	c.Flush()
	assert.Equal(t, []string{"Hello, world!", "This is buffered\n more"}, flushed)
	assert.Equal(t, "Hello, world!This is buffered\n more", c.Output())

	c.SetFlushListener(nil)
	c.Print("", "", true, "quiet")
	assert.Len(t, flushed, 2)
}

func TestAutoSaver_StreamedBlock(t *testing.T) {
	s, err := NewSaver(t.TempDir(), nil)
	require.NoError(t, err)
	auto := NewAutoSaver(s, nil)

	c := NewCaptureStream()
	c.SetFlushListener(auto.OnFlush)

	// block arrives over several flushes
	c.Print("", "", true, "Sure:\n```js\n// filename: ")
	c.Print("", "", true, "app.js\nconsole.log('a')\n")
	assert.Empty(t, auto.Saved())

	c.Print("", "", true, "```\nDone.")
	saved := auto.Saved()
	require.Len(t, saved, 1)
	data, err := os.ReadFile(filepath.Join(s.Dir(), "app.js"))
	require.NoError(t, err)
	assert.Equal(t, "console.log('a')\n", string(data))

	// unchanged content is not recorded twice
	c.Print("", "", true, "\n```js\n// filename: app.js\nconsole.log('a')\n```")
	assert.Len(t, auto.Saved(), 1)

	c.Print("", "", true, "\n```js\n// filename: app.js\nconsole.log('b')\n```")
	assert.Len(t, auto.Saved(), 2)
}

func TestAutoSaver_Observer(t *testing.T) {
	s, err := NewSaver(t.TempDir(), nil)
	require.NoError(t, err)
	auto := NewAutoSaver(s, nil)
	observe := auto.Observer()

	observe("chat", conversation.Message{Sender: "coder", Content: "```py\n# filename: x.py\nprint(1)\n```"})
	observe("chat", conversation.Message{Sender: "coder", Content: "```py\nprint(2)\n```"})
	observe("chat", conversation.Message{Sender: "coder", Content: "```py\n# filename: ../x.py\nprint(3)\n```"})

	saved := auto.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, filepath.Join(s.Dir(), "x.py"), saved[0].Path)
}

func TestAutoSaver_Limit(t *testing.T) {
	s, err := NewSaver(t.TempDir(), nil)
	require.NoError(t, err)
	auto := NewAutoSaver(s, nil).WithLimit(2)
	observe := auto.Observer()

	for i := range 4 {
		observe("chat", conversation.Message{Content: fmt.Sprintf("```py\n# filename: f%d.py\nprint(%d)\n```", i, i)})
	}

	saved := auto.Saved()
	require.Len(t, saved, 2)
	assert.Equal(t, filepath.Join(s.Dir(), "f2.py"), saved[0].Path)
	assert.Equal(t, filepath.Join(s.Dir(), "f3.py"), saved[1].Path)
	assert.Len(t, auto.seen, 2)
	assert.NotContains(t, auto.seen, "f0.py")

	// 仍在记录中的文件不会重复写入
	observe("chat", conversation.Message{Content: "```py\n# filename: f3.py\nprint(3)\n```"})
	assert.Equal(t, saved, auto.Saved())

	// 被淘汰的文件重新写入
	observe("chat", conversation.Message{Content: "```py\n# filename: f0.py\nprint(0)\n```"})
	saved = auto.Saved()
	require.Len(t, saved, 2)
	assert.Equal(t, filepath.Join(s.Dir(), "f0.py"), saved[1].Path)
	assert.Len(t, auto.seen, 2)
}
