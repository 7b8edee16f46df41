package names

import (
	"strings"
	"testing"

	"github.com/tristanlee/substrate/internal/validate"
)

func contains(list []string, word string) bool {
	for _, w := range list {
		if w == word {
			return true
		}
	}
	return false
}

// TestGenerate tests the core name generation logic
func TestGenerate(t *testing.T) {
	for i := 0; i < 50; i++ {
		name := Generate()

		parts := strings.Split(name, "-")
		if len(parts) != 2 {
			t.Fatalf("Generate() returned name with wrong format (expected adjective-noun): %s", name)
		}
		if !contains(adjectives, parts[0]) {
			t.Fatalf("Generate() returned unknown adjective: %s", parts[0])
		}
		if !contains(nouns, parts[1]) {
			t.Fatalf("Generate() returned unknown noun: %s", parts[1])
		}
		if err := validate.NodeNameFormat(name); err != nil {
			t.Fatalf("Generate() returned name rejected by validation: %v", err)
		}
	}
}

// TestVocabularyIsValid ensures every word is usable in a node name
func TestVocabularyIsValid(t *testing.T) {
	for _, word := range append(append([]string{}, adjectives...), nouns...) {
		if strings.ContainsAny(word, "-_ ") || strings.ToLower(word) != word {
			t.Errorf("Word %q would produce an invalid node name", word)
		}
	}
}
