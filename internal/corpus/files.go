package corpus

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
)

// LoadDir walks dir and loads any .txt, .md and .pdf files as documents.
// Files longer than chunkChars are split into paragraph-packed chunks, one
// document per chunk, so a single oversized file never dominates retrieval.
// Walk order is lexical, which keeps ingestion order stable across runs.
func LoadDir(dir string, chunkChars int) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		var text string
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
			b, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			text = string(b)
		case ".pdf":
			var err error
			text, err = readPDF(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
		default:
			return nil
		}

		title := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		chunks := splitChunks(text, chunkChars)
		for i, chunk := range chunks {
			origin := path
			if len(chunks) > 1 {
				origin = fmt.Sprintf("%s#%d", path, i+1)
			}
			docs = append(docs, Document{
				ID:   uuid.New().String(),
				Text: chunk,
				Meta: Metadata{
					Source: SourceFile,
					Title:  title,
					Origin: origin,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	return docs, nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// splitChunks packs paragraphs into chunks of at most max characters.
// A single paragraph longer than max stays whole; max <= 0 disables
// splitting. Blank-only input yields no chunks.
func splitChunks(text string, max int) []string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}
	if max <= 0 {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(p)+2 > max {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}
