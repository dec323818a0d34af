package pipeline

import (
	"errors"
	"fmt"

	"github.com/zombor/fridgecheck/internal/scanning"
)

var (
	// ErrBusy is returned while a network operation is in flight
	ErrBusy = errors.New("scan pipeline is busy")

	// ErrInvalidTransition is returned when an operation is not valid in the current phase
	ErrInvalidTransition = errors.New("operation not valid in the current scan phase")

	// ErrUnknownCandidate is returned when a recipe candidate ID is not part of this run
	ErrUnknownCandidate = errors.New("unknown recipe candidate")
)

// Phase is the tag of the pipeline state variant
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAnalyzing
	PhaseAnalyzed
	PhaseAnalysisFailed
	PhaseGenerating
	PhaseGenerated
	PhaseGenerationFailed
)

var phaseNames = map[Phase]string{
	PhaseIdle:             "idle",
	PhaseAnalyzing:        "analyzing",
	PhaseAnalyzed:         "analyzed",
	PhaseAnalysisFailed:   "analysis_failed",
	PhaseGenerating:       "generating",
	PhaseGenerated:        "generated",
	PhaseGenerationFailed: "generation_failed",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText renders the phase name in JSON
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name
func (p *Phase) UnmarshalText(text []byte) error {
	for phase, name := range phaseNames {
		if name == string(text) {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown scan phase %q", text)
}

// Busy reports whether a network operation is in flight
func (p Phase) Busy() bool {
	return p == PhaseAnalyzing || p == PhaseGenerating
}

func (p Phase) hasIngredients() bool {
	switch p {
	case PhaseAnalyzed, PhaseGenerating, PhaseGenerated, PhaseGenerationFailed:
		return true
	}
	return false
}

// DetectedIngredient is an ingredient found during analysis. ID is unique
// within a run and never reused.
type DetectedIngredient struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Category          scanning.Category `json:"category"`
	EstimatedQuantity string            `json:"estimated_quantity"`
	IsSelected        bool              `json:"is_selected"`
}

// RecipeCandidate is a generated recipe that has not necessarily been saved.
// ID is assigned at generation time and stable for the run.
type RecipeCandidate struct {
	ID                    string              `json:"id"`
	Title                 string              `json:"title"`
	Summary               string              `json:"summary"`
	Ingredients           []string            `json:"ingredients"`
	Steps                 []string            `json:"steps"`
	PrepTimeMinutes       int                 `json:"prep_time"`
	CookTimeMinutes       int                 `json:"cook_time"`
	NutritionInfo         string              `json:"nutritional_info"`
	CuisineType           string              `json:"cuisine_type"`
	Difficulty            scanning.Difficulty `json:"difficulty"`
	SourceIngredientNames []string            `json:"source_ingredients"`
}

// TotalTime is prep plus cook time in minutes
func (r RecipeCandidate) TotalTime() int {
	return r.PrepTimeMinutes + r.CookTimeMinutes
}

// Preferences are the user's constraints for recipe generation
type Preferences struct {
	DietaryRestrictions []string
	Allergies           []string
	CuisinePreferences  []string
	ServingSize         int
}

// ScanResult is what a scan history record is built from
type ScanResult struct {
	Images          [][]byte
	IngredientNames []string
	Recipes         []RecipeCandidate
}

// Store is the external persistence collaborator the commit operations write to
type Store interface {
	// AddPantryItem inserts one pantry record for the ingredient
	AddPantryItem(ingredient DetectedIngredient) error
	// SaveRecipe inserts one recipe record and returns its persisted ID
	SaveRecipe(candidate RecipeCandidate) (string, error)
	// SaveScanRecord inserts one history record and returns its persisted ID
	SaveScanRecord(scan ScanResult) (string, error)
}

// Snapshot is an immutable copy of the pipeline state
type Snapshot struct {
	Phase        Phase                `json:"phase"`
	Run          uint64               `json:"run"`
	ImageCount   int                  `json:"image_count"`
	Ingredients  []DetectedIngredient `json:"ingredients"`
	Selected     []string             `json:"selected_ingredients,omitempty"`
	Recipes      []RecipeCandidate    `json:"recipes"`
	SavedRecipes map[string]string    `json:"saved_recipes"` // candidate ID -> persisted recipe ID
	ScanRecordID string               `json:"scan_record_id,omitempty"`
	Err          error                `json:"-"`
	Error        string               `json:"error,omitempty"`
}

// SelectedCount returns how many ingredients are currently selected
func (s Snapshot) SelectedCount() int {
	n := 0
	for _, ing := range s.Ingredients {
		if ing.IsSelected {
			n++
		}
	}
	return n
}
