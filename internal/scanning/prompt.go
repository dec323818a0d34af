package scanning

import (
	"fmt"
	"strings"
)

// DefaultServingSize is used when no positive serving size is configured
const DefaultServingSize = 2

// RecipeCount is how many recipes the generation prompt asks for
const RecipeCount = 5

const analysisPrompt = `Analyze this image of a fridge/food items. Identify all visible food items and ingredients.

Return your response as valid JSON with this exact structure:
{
  "ingredients": [
    {
      "name": "item name",
      "category": "one of: %s",
      "estimatedQuantity": "estimated amount e.g. '2 pieces', '1 bag', '500ml'"
    }
  ]
}

Only return the JSON, no other text.`

const recipeInstruction = `
Suggest %d recipes I can make. For each recipe, provide detailed instructions.

Return your response as valid JSON with this exact structure:
{
  "recipes": [
    {
      "title": "Recipe Name",
      "summary": "Brief 1-2 sentence description",
      "ingredients": ["ingredient 1 with amount", "ingredient 2 with amount"],
      "steps": ["Step 1 instruction", "Step 2 instruction"],
      "prepTime": 15,
      "cookTime": 30,
      "nutritionalInfo": "Approx. 450 cal, 25g protein, 35g carbs, 18g fat per serving",
      "cuisineType": "Italian",
      "difficulty": "Easy"
    }
  ]
}

Only return the JSON, no other text.`

// BuildAnalysisPrompt renders the ingredient-analysis instruction
func BuildAnalysisPrompt() string {
	names := make([]string, len(Categories))
	for i, c := range Categories {
		names[i] = string(c)
	}
	return fmt.Sprintf(analysisPrompt, strings.Join(names, ", "))
}

// BuildRecipePrompt renders the recipe-generation prompt. Optional clauses are
// omitted entirely when their list is empty; the output is deterministic.
func BuildRecipePrompt(req RecipeRequest) string {
	parts := []string{
		fmt.Sprintf("I have these ingredients available: %s.", strings.Join(req.Ingredients, ", ")),
	}
	if len(req.PantryStaples) > 0 {
		parts = append(parts, fmt.Sprintf("I also have these pantry staples: %s.", strings.Join(req.PantryStaples, ", ")))
	}
	if len(req.DietaryRestrictions) > 0 {
		parts = append(parts, fmt.Sprintf("Dietary restrictions: %s.", strings.Join(req.DietaryRestrictions, ", ")))
	}
	if len(req.Allergies) > 0 {
		parts = append(parts, fmt.Sprintf("Allergies (must avoid): %s.", strings.Join(req.Allergies, ", ")))
	}
	if len(req.CuisinePreferences) > 0 {
		parts = append(parts, fmt.Sprintf("Preferred cuisines: %s.", strings.Join(req.CuisinePreferences, ", ")))
	}

	servings := req.ServingSize
	if servings <= 0 {
		servings = DefaultServingSize
	}
	parts = append(parts, fmt.Sprintf("Serving size: %d people.", servings))
	parts = append(parts, fmt.Sprintf(recipeInstruction, RecipeCount))

	return strings.Join(parts, "\n")
}

// BuildPingPrompt is the minimal prompt used to verify an API key
func BuildPingPrompt() string {
	return "test"
}
