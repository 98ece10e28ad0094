package extract_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/veritas/pkg/extract"
)

func TestFromReader_Text(t *testing.T) {
	text, err := extract.FromReader("notes.TXT", strings.NewReader("Paris is the capital of France.\n\nIt sits on the Seine."))
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.\n\nIt sits on the Seine.", text)

	text, err = extract.FromReader("readme.md", strings.NewReader("# Title\n\nbad \xff byte"))
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nbad  byte", text)
}

func TestFromReader_HTML(t *testing.T) {
	page := `<html>
		<head><title>France</title><style>body { color: red; }</style></head>
		<body>
			<nav>Home | About</nav>
			<main>
				<h1>Capital</h1>
				<p>Paris is   the capital of France.</p>
				<script>var tracking = true;</script>
			</main>
			<footer>Privacy Policy</footer>
		</body>
	</html>`

	text, err := extract.FromReader("page.html", strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, "Capital\nParis is the capital of France.", text)
}

func TestFromReader_Unsupported(t *testing.T) {
	_, err := extract.FromReader("image.png", strings.NewReader("x"))
	assert.ErrorIs(t, err, extract.ErrUnsupportedType)

	assert.True(t, extract.Supported("a.PDF"))
	assert.True(t, extract.Supported("a.md"))
	assert.False(t, extract.Supported("a.docx"))
	assert.False(t, extract.Supported("noext"))
}

func TestFromReader_BrokenPDF(t *testing.T) {
	_, err := extract.FromReader("broken.pdf", strings.NewReader("not a pdf"))
	assert.Error(t, err)
}
