package ingestion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onboarding-agent/backend/internal/fingerprint"
)

func TestLoader_Scan(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"zeta.md":        "# Z",
		"alpha.md":       "# A",
		"guide.HTML":     "<html><body><h1>Guide</h1></body></html>",
		"readme.txt":     "skip me",
		"handbook.mdx":   "skip me too",
		"notes.markdown": "notes",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.md"), 0o755))

	docs, failures, err := NewLoader(dir).Scan()
	require.NoError(t, err)
	assert.Empty(t, failures)

	var ids []string
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"alpha.md", "guide.HTML", "notes.markdown", "zeta.md"}, ids)

	assert.Equal(t, fingerprint.CalculateHash([]byte("# A")), docs[0].Hash)
	assert.Equal(t, "# A", docs[0].Text)
	assert.Equal(t, "# Guide", docs[1].Text)
}

func TestLoader_MissingDirectory(t *testing.T) {
	_, _, err := NewLoader(filepath.Join(t.TempDir(), "missing")).Scan()
	assert.Error(t, err)
}

func TestHTMLToMarkdown(t *testing.T) {
	page := `<html>
<head><title>Remote</title><style>body{}</style></head>
<body>
  <nav>Home | About</nav>
  <h1>Remote Work Policy</h1>
  <p>Employees   may work
     remotely.</p>
  <h2>Stipend</h2>
  <ul><li>$500 per year</li><li>Receipts <p>required</p></li></ul>
  <script>alert("x")</script>
  <footer>Copyright</footer>
</body>
</html>`

	text, err := htmlToMarkdown([]byte(page))
	require.NoError(t, err)

	assert.Equal(t, "# Remote Work Policy\n\n"+
		"Employees may work remotely.\n\n"+
		"## Stipend\n\n"+
		"- $500 per year\n\n"+
		"- Receipts required", text)
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("a.md"))
	assert.True(t, IsSupported("A.MD"))
	assert.True(t, IsSupported("page.htm"))
	assert.False(t, IsSupported("a.txt"))
	assert.False(t, IsSupported("md"))
}
