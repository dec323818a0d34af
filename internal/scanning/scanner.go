package scanning

import (
	"context"
	"encoding/json"
	"strings"
)

// Category is the closed set of ingredient categories the analysis prompt asks for
type Category string

const (
	CategoryProduce    Category = "Produce"
	CategoryDairy      Category = "Dairy"
	CategoryMeat       Category = "Meat"
	CategorySeafood    Category = "Seafood"
	CategoryGrains     Category = "Grains"
	CategoryCondiments Category = "Condiments"
	CategoryBeverages  Category = "Beverages"
	CategorySnacks     Category = "Snacks"
	CategoryFrozen     Category = "Frozen"
	CategoryOther      Category = "Other"
)

// Categories lists every category in prompt order
var Categories = []Category{
	CategoryProduce, CategoryDairy, CategoryMeat, CategorySeafood, CategoryGrains,
	CategoryCondiments, CategoryBeverages, CategorySnacks, CategoryFrozen, CategoryOther,
}

// ParseCategory maps free text from the model onto a Category, falling back to Other
func ParseCategory(s string) Category {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(s, string(c)) {
			return c
		}
	}
	return CategoryOther
}

// UnmarshalJSON normalizes whatever the model wrote into a known Category
func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = ParseCategory(s)
	return nil
}

// Difficulty is the closed set of recipe difficulties
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// ParseDifficulty maps free text onto a Difficulty, falling back to Medium
func ParseDifficulty(s string) Difficulty {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy":
		return DifficultyEasy
	case "hard":
		return DifficultyHard
	default:
		return DifficultyMedium
	}
}

// UnmarshalJSON normalizes whatever the model wrote into a known Difficulty
func (d *Difficulty) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*d = ParseDifficulty(s)
	return nil
}

// IngredientData is one food item the model identified in the captured images
type IngredientData struct {
	Name              string   `json:"name"`
	Category          Category `json:"category"`
	EstimatedQuantity string   `json:"estimatedQuantity"`
}

// RecipeData is one recipe suggestion returned by the model
type RecipeData struct {
	Title           string     `json:"title"`
	Summary         string     `json:"summary"`
	Ingredients     []string   `json:"ingredients"`
	Steps           []string   `json:"steps"`
	PrepTime        int        `json:"prepTime"`
	CookTime        int        `json:"cookTime"`
	NutritionalInfo string     `json:"nutritionalInfo"`
	CuisineType     string     `json:"cuisineType"`
	Difficulty      Difficulty `json:"difficulty"`
}

// TotalTime is prep plus cook time in minutes
func (r RecipeData) TotalTime() int {
	return r.PrepTime + r.CookTime
}

// RecipeRequest carries everything the recipe prompt is rendered from
type RecipeRequest struct {
	Ingredients         []string
	PantryStaples       []string
	DietaryRestrictions []string
	Allergies           []string
	CuisinePreferences  []string
	ServingSize         int
}

// Scanner defines the interface for the two model-backed pipeline stages
type Scanner interface {
	// ScanIngredients identifies food items in already prepared images
	ScanIngredients(ctx context.Context, apiKey string, images []Image) ([]IngredientData, error)
	// SuggestRecipes asks the model for recipes built from the request
	SuggestRecipes(ctx context.Context, apiKey string, req RecipeRequest) ([]RecipeData, error)
}
