package search

import (
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// questionLine matches an explicit "Question: ..." line inside a section.
var questionLine = regexp.MustCompile(`(?m)^\s*\*{0,2}Question\*{0,2}\s*:\s*(.+)$`)

// LoadPolicies walks root for *.md policy files and yields one Document per
// "## " section. Content before the first section heading becomes a document
// with an empty Section. Unreadable files are skipped; an unreadable root is
// an error.
func LoadPolicies(root string) (iter.Seq[Document], error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("policies root: %w", err)
	}

	var docs []Document
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return err
		}
		data, readErr := os.ReadFile(path) //nolint:gosec // path from WalkDir under root
		if readErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = d.Name()
		}
		docs = append(docs, splitSections(filepath.ToSlash(rel), string(data))...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking policies: %w", err)
	}

	return func(yield func(Document) bool) {
		for _, doc := range docs {
			if !yield(doc) {
				return
			}
		}
	}, nil
}

// splitSections cuts a policy file at "## " headings.
func splitSections(policy, content string) []Document {
	var docs []Document

	section := ""
	var body strings.Builder
	flush := func() {
		text := strings.TrimSpace(body.String())
		body.Reset()
		if text == "" {
			return
		}
		doc := Document{
			ID:      policy + "#" + slugify(section),
			Policy:  policy,
			Section: section,
			Text:    text,
		}
		if m := questionLine.FindStringSubmatch(text); m != nil {
			doc.Question = strings.TrimSpace(m[1])
		}
		docs = append(docs, doc)
	}

	for _, line := range strings.Split(content, "\n") {
		if heading, ok := strings.CutPrefix(line, "## "); ok {
			flush()
			section = strings.TrimSpace(heading)
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
	return docs
}

func slugify(s string) string {
	return strings.Join(tokenize(s), "-")
}
