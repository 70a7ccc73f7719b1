package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/K4mp47/poetry-cms/internal/model"
)

func TestHTML_KeepsLineBreaks(t *testing.T) {
	out, err := New().HTML("first line\nsecond line")
	require.NoError(t, err)
	assert.Contains(t, string(out), "first line<br>")
	assert.Contains(t, string(out), "second line")
}

func TestHTML_HeadingsAndEmphasis(t *testing.T) {
	out, err := New().HTML("# The Sea\n\nSome *salt*.")
	require.NoError(t, err)
	assert.Contains(t, string(out), `<h1 id="the-sea">The Sea</h1>`)
	assert.Contains(t, string(out), "<em>salt</em>")
}

func TestHTML_DropsRawHTML(t *testing.T) {
	out, err := New().HTML("<script>alert(1)</script>")
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(out), "<script>"))
}

func TestPage(t *testing.T) {
	item := model.ContentItem{ID: "p", Type: model.TypePoetry, Title: "P", Body: "a\nb"}
	page, err := New().Page(item)
	require.NoError(t, err)
	assert.Equal(t, item, page.ContentItem)
	assert.Contains(t, string(page.HTML), "<br>")
}
