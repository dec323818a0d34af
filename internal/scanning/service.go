package scanning

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	analysisMaxTokens = 2048
	recipeMaxTokens   = 4096
	pingMaxTokens     = 1
)

// ModelScanner implements Scanner by prompting a Model and decoding its reply
type ModelScanner struct {
	model Model
}

// NewScanner creates a ModelScanner backed by model
func NewScanner(model Model) *ModelScanner {
	return &ModelScanner{model: model}
}

// ScanIngredients identifies food items in the images
func (s *ModelScanner) ScanIngredients(ctx context.Context, apiKey string, images []Image) ([]IngredientData, error) {
	if len(images) == 0 {
		return nil, ErrNoImage
	}

	text, err := s.model.Send(ctx, apiKey, Request{
		Prompt:    BuildAnalysisPrompt(),
		Images:    images,
		MaxTokens: analysisMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("Raw analysis response", "text", text)

	ingredients, err := DecodeAnalysis(ExtractJSON(text))
	if err != nil {
		slog.Error("Failed to decode analysis", "error", err)
		return nil, err
	}
	slog.Info("Parsed ingredients", "count", len(ingredients))
	return ingredients, nil
}

// SuggestRecipes asks the model for recipes built from req
func (s *ModelScanner) SuggestRecipes(ctx context.Context, apiKey string, req RecipeRequest) ([]RecipeData, error) {
	text, err := s.model.Send(ctx, apiKey, Request{
		Prompt:    BuildRecipePrompt(req),
		MaxTokens: recipeMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	recipes, err := DecodeRecipes(ExtractJSON(text))
	if err != nil {
		slog.Error("Failed to decode recipes", "error", err)
		return nil, err
	}
	slog.Info("Parsed recipes", "count", len(recipes))
	return recipes, nil
}

// Ping verifies that apiKey is accepted by the model provider. Only the
// error matters; the reply text is discarded.
func (s *ModelScanner) Ping(ctx context.Context, apiKey string) error {
	_, err := s.model.Send(ctx, apiKey, Request{
		Prompt:    BuildPingPrompt(),
		MaxTokens: pingMaxTokens,
	})
	if err != nil {
		return fmt.Errorf("testing API key: %w", err)
	}
	return nil
}
