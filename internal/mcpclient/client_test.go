package mcpclient

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
)

func TestNormalizeContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		content  []mcp.Content
		expected string
	}{
		{
			name:     "empty content",
			content:  nil,
			expected: "",
		},
		{
			name: "single text part",
			content: []mcp.Content{
				mcp.TextContent{Type: "text", Text: "hello"},
			},
			expected: "hello",
		},
		{
			name: "multiple text parts joined",
			content: []mcp.Content{
				mcp.TextContent{Type: "text", Text: "line one"},
				mcp.TextContent{Type: "text", Text: "line two"},
			},
			expected: "line one\nline two",
		},
		{
			name: "text preferred over other parts",
			content: []mcp.Content{
				mcp.ImageContent{Type: "image", Data: "aGk=", MIMEType: "image/png"},
				mcp.TextContent{Type: "text", Text: "caption"},
			},
			expected: "caption",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.expected, normalizeContent(tc.content))
		})
	}
}

func TestNormalizeContent_NonTextFallsBackToJSON(t *testing.T) {
	t.Parallel()

	content := []mcp.Content{
		mcp.ImageContent{Type: "image", Data: "aGk=", MIMEType: "image/png"},
	}

	payload := normalizeContent(content)
	require.NotEmpty(t, payload)
	require.Contains(t, payload, "image/png")
}
