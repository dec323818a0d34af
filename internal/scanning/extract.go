package scanning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const fence = "```"

// ExtractJSON pulls the JSON document out of a model reply. It is a fallback
// chain, not a parser: the first json-tagged fenced block, else the first
// fenced block, else the whole text. A fence that never closes falls through
// to the next step.
func ExtractJSON(text string) string {
	if body, ok := fencedBlock(text, fence+"json"); ok {
		return body
	}
	if body, ok := fencedBlock(text, fence); ok {
		return body
	}
	return strings.TrimSpace(text)
}

func fencedBlock(text, opener string) (string, bool) {
	start := strings.Index(text, opener)
	if start == -1 {
		return "", false
	}
	rest := text[start+len(opener):]
	end := strings.Index(rest, fence)
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// DecodeAnalysis decodes the ingredient-analysis JSON contract
func DecodeAnalysis(text string) ([]IngredientData, error) {
	var payload struct {
		Ingredients *[]IngredientData `json:"ingredients"`
	}
	if err := decodeJSON(text, &payload); err != nil {
		return nil, err
	}
	if payload.Ingredients == nil {
		return nil, &DecodingError{Detail: `missing "ingredients" key`, Snippet: snippet(text, 0)}
	}

	ingredients := *payload.Ingredients
	for i := range ingredients {
		ingredients[i].Name = strings.TrimSpace(ingredients[i].Name)
		if ingredients[i].Category == "" {
			ingredients[i].Category = CategoryOther
		}
	}
	return ingredients, nil
}

// DecodeRecipes decodes the recipe-generation JSON contract. Fewer recipes
// than requested are accepted.
func DecodeRecipes(text string) ([]RecipeData, error) {
	var payload struct {
		Recipes *[]RecipeData `json:"recipes"`
	}
	if err := decodeJSON(text, &payload); err != nil {
		return nil, err
	}
	if payload.Recipes == nil {
		return nil, &DecodingError{Detail: `missing "recipes" key`, Snippet: snippet(text, 0)}
	}

	recipes := *payload.Recipes
	for i := range recipes {
		recipes[i].Title = strings.TrimSpace(recipes[i].Title)
		if recipes[i].Difficulty == "" {
			recipes[i].Difficulty = DifficultyMedium
		}
		if recipes[i].Ingredients == nil {
			recipes[i].Ingredients = []string{}
		}
		if recipes[i].Steps == nil {
			recipes[i].Steps = []string{}
		}
	}
	return recipes, nil
}

func decodeJSON(text string, v any) error {
	err := json.Unmarshal([]byte(text), v)
	if err == nil {
		return nil
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		return &DecodingError{
			Detail:  syntaxErr.Error(),
			Offset:  syntaxErr.Offset,
			Snippet: snippet(text, syntaxErr.Offset),
			Err:     err,
		}
	case errors.As(err, &typeErr):
		return &DecodingError{
			Detail:  fmt.Sprintf("field %q: expected %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value),
			Offset:  typeErr.Offset,
			Snippet: snippet(text, typeErr.Offset),
			Err:     err,
		}
	default:
		return &DecodingError{Detail: err.Error(), Snippet: snippet(text, 0), Err: err}
	}
}

// snippet returns up to 40 bytes of text around offset
func snippet(text string, offset int64) string {
	const radius = 20
	if text == "" {
		return ""
	}
	start := max(int(offset)-radius, 0)
	end := min(int(offset)+radius, len(text))
	if start >= end {
		start = max(len(text)-2*radius, 0)
		end = len(text)
	}
	return text[start:end]
}
