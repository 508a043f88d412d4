package corpus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Column headers as shipped in recipes_greek.csv.
const (
	colName         = "name"
	colCategory     = "Category"
	colIngredients  = "Ingredients"
	colPrepTime     = "Preparation Time"
	colTotalTime    = "Total Time"
	colServings     = "Number of Servings"
	colKeywords     = "Keywords"
	colInstructions = "Instructions"
)

// LoadDataset reads the recipe CSV at path, one prose document per row.
func LoadDataset(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	docs, err := ReadDataset(f)
	if err != nil {
		return nil, fmt.Errorf("reading dataset %s: %w", path, err)
	}
	return docs, nil
}

// ReadDataset parses recipe rows from r. The first record must be the
// header; column order is free. Each row is templated into the prose the
// index was always built from, so retrieval quality matches the dataset's
// published phrasing.
func ReadDataset(r io.Reader) ([]Document, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("dataset is empty")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	if _, ok := col[colName]; !ok {
		return nil, fmt.Errorf("dataset has no %q column", colName)
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var docs []Document
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}

		name := field(row, colName)
		ingredients := field(row, colIngredients)
		if name == "" && ingredients == "" {
			continue
		}

		docs = append(docs, Document{
			ID:   uuid.New().String(),
			Text: recipeText(name, field(row, colCategory), ingredients,
				field(row, colPrepTime), field(row, colTotalTime),
				field(row, colServings), field(row, colKeywords),
				field(row, colInstructions)),
			Meta: Metadata{
				Source:   SourceDataset,
				Title:    name,
				Category: field(row, colCategory),
				Origin:   fmt.Sprintf("row %d", line),
			},
		})
	}
	return docs, nil
}

// recipeText renders one recipe row as Greek prose. Optional fields are
// dropped sentence by sentence when blank.
func recipeText(name, category, ingredients, prepTime, totalTime, servings, keywords, instructions string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Η συνταγή για %s είναι ένα %s που χρειάζεται τα εξής υλικά: %s. ", name, category, ingredients)
	if prepTime != "" {
		fmt.Fprintf(&b, "Έχει χρόνο προετοιμασίας %s ", prepTime)
	}
	if totalTime != "" {
		fmt.Fprintf(&b, "και συνολικά παίρνει %s. ", totalTime)
	}
	if servings != "" {
		fmt.Fprintf(&b, "Οι μερίδες που φτιάχνει είναι %s. ", servings)
	}
	if keywords != "" {
		fmt.Fprintf(&b, "Χαρακτηριστικές λέξεις που περιγράφουν αυτή τη συνταγή είναι: %s.", keywords)
	}
	if instructions != "" {
		fmt.Fprintf(&b, "Ο τρόπος προετοιμασίας είναι ο εξής: %s.", instructions)
	}
	return strings.TrimSpace(b.String())
}
