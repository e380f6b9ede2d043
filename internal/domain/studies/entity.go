package studies

import (
	"encoding/json"
	"sort"
	"time"
)

// Phantom enum
type Phantom string

const (
	PhantomCatPhan503 Phantom = "CatPhan503"
	PhantomCatPhan504 Phantom = "CatPhan504"
	PhantomCatPhan600 Phantom = "CatPhan600"
	PhantomCatPhan604 Phantom = "CatPhan604"
	PhantomCatPhan700 Phantom = "CatPhan700"
)

// Phantoms lists every supported phantom model, ordered by model number.
func Phantoms() []Phantom {
	return []Phantom{
		PhantomCatPhan503,
		PhantomCatPhan504,
		PhantomCatPhan600,
		PhantomCatPhan604,
		PhantomCatPhan700,
	}
}

// DefaultExtensions are the file suffixes that indicate CT image slices.
var DefaultExtensions = []string{".dcm", ".ima"}

// StudyRecord represents a single discovered CBCT study directory.
type StudyRecord struct {
	Path         string   `json:"path"`
	RelativePath string   `json:"relative_path"`
	FileCount    int      `json:"file_count"`
	Extensions   []string `json:"extensions"`
}

// Inventory is the ordered collection of studies discovered during one scan.
type Inventory struct {
	Root           string        `json:"root"`
	GeneratedAt    time.Time     `json:"generated_at"`
	Extensions     []string      `json:"extensions"`
	FollowSymlinks bool          `json:"follow_symlinks"`
	NestedSeries   bool          `json:"nested_series"`
	Studies        []StudyRecord `json:"studies"`
}

// StudyCount returns the number of discovered studies.
func (inv *Inventory) StudyCount() int { return len(inv.Studies) }

// ToJSON renders the inventory with stable field ordering.
func (inv *Inventory) ToJSON() ([]byte, error) {
	type out struct {
		Root           string        `json:"root"`
		GeneratedAt    time.Time     `json:"generated_at"`
		Extensions     []string      `json:"extensions"`
		FollowSymlinks bool          `json:"follow_symlinks"`
		NestedSeries   bool          `json:"nested_series"`
		StudyCount     int           `json:"study_count"`
		Studies        []StudyRecord `json:"studies"`
	}
	return json.MarshalIndent(out{
		Root:           inv.Root,
		GeneratedAt:    inv.GeneratedAt,
		Extensions:     inv.Extensions,
		FollowSymlinks: inv.FollowSymlinks,
		NestedSeries:   inv.NestedSeries,
		StudyCount:     len(inv.Studies),
		Studies:        inv.Studies,
	}, "", "  ")
}

// SortedExtensions returns a sorted copy of a study's extension set.
func SortedExtensions(exts map[string]struct{}) []string {
	out := make([]string, 0, len(exts))
	for ext := range exts {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
