package corpus

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/solacehq/solace/internal/model"
)

// importFile is the document form of a verse file:
//
//	verses:
//	  - {book: Psalms, chapter: 23, verse: 1, text: "The Lord is my shepherd"}
//
// A bare top-level list of verses is accepted too. JSON files parse through
// the same decoder since JSON is valid YAML.
type importFile struct {
	Verses []model.VerseInput `yaml:"verses"`
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadFile loads verses from a YAML or JSON file. path "-" reads stdin.
func ReadFile(path string) ([]model.VerseInput, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("corpus: open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("corpus: read %s: %w", path, err)
	}
	return ParseVerses(data)
}

// ParseVerses decodes a verse document or a bare verse list.
func ParseVerses(data []byte) ([]model.VerseInput, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("corpus: parse verses: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("corpus: parse verses: %w: empty document", model.ErrValidation)
	}

	doc := root.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		var verses []model.VerseInput
		if err := doc.Decode(&verses); err != nil {
			return nil, fmt.Errorf("corpus: parse verses: %w", err)
		}
		return verses, nil
	case yaml.MappingNode:
		var f importFile
		if err := doc.Decode(&f); err != nil {
			return nil, fmt.Errorf("corpus: parse verses: %w", err)
		}
		return f.Verses, nil
	default:
		return nil, fmt.Errorf("corpus: parse verses: %w: expected a list of verses or a verses: key", model.ErrValidation)
	}
}
