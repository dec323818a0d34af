package kitchen

import (
	"github.com/zombor/fridgecheck/internal/pipeline"
)

// PipelineStore lets a scan pipeline commit its results through a Service
type PipelineStore struct {
	service *Service
}

// NewPipelineStore wraps service as a pipeline.Store
func NewPipelineStore(service *Service) *PipelineStore {
	return &PipelineStore{service: service}
}

// AddPantryItem inserts the detected ingredient as a pantry item with no expiry
func (s *PipelineStore) AddPantryItem(ingredient pipeline.DetectedIngredient) error {
	return s.service.AddPantryItem(&PantryItem{
		Name:     ingredient.Name,
		Category: string(ingredient.Category),
		Quantity: ingredient.EstimatedQuantity,
	})
}

// SaveRecipe inserts the candidate as a new, non-favorite recipe
func (s *PipelineStore) SaveRecipe(candidate pipeline.RecipeCandidate) (string, error) {
	recipe := recipeFromCandidate(candidate)
	if err := s.service.SaveRecipe(recipe); err != nil {
		return "", err
	}
	return recipe.ID, nil
}

// SaveScanRecord stores the scan images and its history record
func (s *PipelineStore) SaveScanRecord(scan pipeline.ScanResult) (string, error) {
	record := &ScanRecord{
		DetectedIngredients: scan.IngredientNames,
		Recipes:             make([]Recipe, 0, len(scan.Recipes)),
	}
	for _, c := range scan.Recipes {
		recipe := recipeFromCandidate(c)
		recipe.ID = c.ID
		record.Recipes = append(record.Recipes, *recipe)
	}
	if err := s.service.SaveScan(record, scan.Images); err != nil {
		return "", err
	}
	return record.ID, nil
}

func recipeFromCandidate(c pipeline.RecipeCandidate) *Recipe {
	return &Recipe{
		Title:             c.Title,
		Summary:           c.Summary,
		Ingredients:       c.Ingredients,
		Steps:             c.Steps,
		PrepTime:          c.PrepTimeMinutes,
		CookTime:          c.CookTimeMinutes,
		NutritionalInfo:   c.NutritionInfo,
		CuisineType:       c.CuisineType,
		Difficulty:        string(c.Difficulty),
		SourceIngredients: c.SourceIngredientNames,
	}
}
