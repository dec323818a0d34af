package kitchen

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// PantryItem is a food item the user has on hand
type PantryItem struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Category   string     `json:"category"`
	Quantity   string     `json:"quantity"`
	DateAdded  time.Time  `json:"date_added"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}

// IsExpired reports whether the item's expiry date has passed
func (p *PantryItem) IsExpired(now time.Time) bool {
	return p.ExpiryDate != nil && p.ExpiryDate.Before(now)
}

// IsExpiringSoon reports whether the item expires within three days but hasn't yet
func (p *PantryItem) IsExpiringSoon(now time.Time) bool {
	if p.ExpiryDate == nil || p.IsExpired(now) {
		return false
	}
	return !p.ExpiryDate.After(now.AddDate(0, 0, 3))
}

// Recipe is a saved recipe
type Recipe struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Summary           string    `json:"summary"`
	Ingredients       []string  `json:"ingredients"`
	Steps             []string  `json:"steps"`
	PrepTime          int       `json:"prep_time"` // minutes
	CookTime          int       `json:"cook_time"` // minutes
	NutritionalInfo   string    `json:"nutritional_info"`
	CuisineType       string    `json:"cuisine_type"`
	Difficulty        string    `json:"difficulty"`
	IsFavorite        bool      `json:"is_favorite"`
	DateCreated       time.Time `json:"date_created"`
	SourceIngredients []string  `json:"source_ingredients"`
}

// TotalTime is prep plus cook time in minutes
func (r *Recipe) TotalTime() int {
	return r.PrepTime + r.CookTime
}

// ScanRecord is the history entry of one completed scan
type ScanRecord struct {
	ID                  string    `json:"id"`
	Date                time.Time `json:"date"`
	ImageFiles          []string  `json:"image_files"` // storage paths of the processed images
	DetectedIngredients []string  `json:"detected_ingredients"`
	Recipes             []Recipe  `json:"recipes"`
}

// DefaultServingSize is the serving size of fresh preferences
const DefaultServingSize = 2

// Preferences holds the user's dietary constraints and model API key
type Preferences struct {
	DietaryRestrictions []string `json:"dietary_restrictions" validate:"dive,required,max=64"`
	Allergies           []string `json:"allergies" validate:"dive,required,max=64"`
	CuisinePreferences  []string `json:"cuisine_preferences" validate:"dive,required,max=64"`
	ServingSize         int      `json:"serving_size" validate:"gte=1,lte=50"`
	APIKey              string   `json:"api_key,omitempty"`
}

// DefaultPreferences returns the preferences used before the user saves any
func DefaultPreferences() *Preferences {
	return &Preferences{
		DietaryRestrictions: []string{},
		Allergies:           []string{},
		CuisinePreferences:  []string{},
		ServingSize:         DefaultServingSize,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the preferences against their field constraints
func (p *Preferences) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid preferences: %w", err)
	}
	return nil
}

// Suggested vocabularies; any free-form string is accepted
var (
	DietaryOptions = []string{"Vegetarian", "Vegan", "Keto", "Paleo", "Gluten-Free", "Low-Carb", "Low-Fat", "Mediterranean"}
	AllergyOptions = []string{"Nuts", "Peanuts", "Gluten", "Dairy", "Eggs", "Soy", "Shellfish", "Fish", "Sesame", "Wheat"}
	CuisineOptions = []string{"Italian", "Mexican", "Chinese", "Japanese", "Indian", "Thai", "French", "Mediterranean", "American", "Korean"}
)
