package loader

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// markdownLoader strips YAML frontmatter and keeps the body. A title
// found only in frontmatter is re-injected as an h1 so it survives
// chunking.
type markdownLoader struct{}

func (markdownLoader) Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if looksBinary(data) {
		return "", fmt.Errorf("%s: %w", path, ErrUnparsable)
	}

	body, frontmatter := splitFrontmatter(string(data))
	body = strings.TrimSpace(body)
	if body == "" {
		return "", fmt.Errorf("%s is empty: %w", path, ErrUnparsable)
	}

	if title := frontmatterTitle(frontmatter); title != "" && !strings.HasPrefix(body, "# ") {
		body = "# " + title + "\n\n" + body
	}
	return body, nil
}

// splitFrontmatter separates a leading YAML block delimited by --- lines.
func splitFrontmatter(content string) (body string, frontmatter map[string]any) {
	frontmatter = make(map[string]any)
	if !strings.HasPrefix(content, "---\n") {
		return content, frontmatter
	}

	endIdx := strings.Index(content[4:], "\n---")
	if endIdx < 0 {
		return content, frontmatter
	}

	raw := content[4 : 4+endIdx]
	body = strings.TrimPrefix(content[4+endIdx+4:], "\n")

	if err := yaml.Unmarshal([]byte(raw), &frontmatter); err != nil {
		// Malformed frontmatter stays part of the body.
		return content, map[string]any{}
	}
	return body, frontmatter
}

func frontmatterTitle(fm map[string]any) string {
	if title, ok := fm["title"].(string); ok && title != "" {
		return title
	}
	if name, ok := fm["name"].(string); ok && name != "" {
		return name
	}
	return ""
}
