package kitchen

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// IDGenerator generates unique IDs for records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles pantry, recipe, scan history and preference operations
type Service struct {
	db          DB
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage) *Service {
	return NewServiceWithDeps(db, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// AddPantryItem inserts one pantry record, filling in ID and date added
func (s *Service) AddPantryItem(item *PantryItem) error {
	if item.ID == "" {
		item.ID = s.idGenerator.Generate()
	}
	if item.DateAdded.IsZero() {
		item.DateAdded = s.timeSource.Now()
	}
	if err := s.db.SavePantryItem(item); err != nil {
		return fmt.Errorf("saving pantry item: %w", err)
	}
	return nil
}

// ListPantryItems returns the pantry contents
func (s *Service) ListPantryItems() ([]*PantryItem, error) {
	items, err := s.db.ListPantryItems()
	if err != nil {
		return nil, fmt.Errorf("listing pantry items: %w", err)
	}
	return items, nil
}

// PantryNames returns the names of everything in the pantry
func (s *Service) PantryNames() ([]string, error) {
	items, err := s.ListPantryItems()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Name)
	}
	return names, nil
}

// DeletePantryItem removes a pantry item
func (s *Service) DeletePantryItem(id string) error {
	if err := s.db.DeletePantryItem(id); err != nil {
		return fmt.Errorf("deleting pantry item: %w", err)
	}
	return nil
}

// SaveRecipe inserts one recipe record, filling in ID and creation date
func (s *Service) SaveRecipe(recipe *Recipe) error {
	if recipe.ID == "" {
		recipe.ID = s.idGenerator.Generate()
	}
	if recipe.DateCreated.IsZero() {
		recipe.DateCreated = s.timeSource.Now()
	}
	if err := s.db.SaveRecipe(recipe); err != nil {
		return fmt.Errorf("saving recipe: %w", err)
	}
	return nil
}

// ListRecipes returns saved recipes, optionally only favorites
func (s *Service) ListRecipes(favoritesOnly bool) ([]*Recipe, error) {
	recipes, err := s.db.ListRecipes()
	if err != nil {
		return nil, fmt.Errorf("listing recipes: %w", err)
	}
	if !favoritesOnly {
		return recipes, nil
	}
	favorites := make([]*Recipe, 0, len(recipes))
	for _, r := range recipes {
		if r.IsFavorite {
			favorites = append(favorites, r)
		}
	}
	return favorites, nil
}

// ToggleFavorite flips the favorite flag of a saved recipe
func (s *Service) ToggleFavorite(id string) (*Recipe, error) {
	recipe, err := s.db.GetRecipe(id)
	if err != nil {
		return nil, fmt.Errorf("getting recipe: %w", err)
	}
	recipe.IsFavorite = !recipe.IsFavorite
	if err := s.db.SaveRecipe(recipe); err != nil {
		return nil, fmt.Errorf("saving recipe: %w", err)
	}
	return recipe, nil
}

// DeleteRecipe removes a saved recipe
func (s *Service) DeleteRecipe(id string) error {
	if err := s.db.DeleteRecipe(id); err != nil {
		return fmt.Errorf("deleting recipe: %w", err)
	}
	return nil
}

// SaveScan stores the processed images and inserts one scan history record
func (s *Service) SaveScan(record *ScanRecord, images [][]byte) error {
	if record.ID == "" {
		record.ID = s.idGenerator.Generate()
	}
	if record.Date.IsZero() {
		record.Date = s.timeSource.Now()
	}

	record.ImageFiles = make([]string, 0, len(images))
	for i, data := range images {
		path, err := s.storage.Save(fmt.Sprintf("%s_%d.jpg", record.ID, i), data)
		if err != nil {
			s.removeFiles(record.ImageFiles)
			return fmt.Errorf("saving scan image: %w", err)
		}
		record.ImageFiles = append(record.ImageFiles, path)
	}

	if err := s.db.SaveScanRecord(record); err != nil {
		// Clean up files if database save fails
		s.removeFiles(record.ImageFiles)
		return fmt.Errorf("saving scan record: %w", err)
	}
	return nil
}

// ListScans returns the scan history
func (s *Service) ListScans() ([]*ScanRecord, error) {
	records, err := s.db.ListScanRecords()
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	return records, nil
}

// GetScanImage returns the n-th processed image of a scan
func (s *Service) GetScanImage(id string, n int) ([]byte, error) {
	record, err := s.db.GetScanRecord(id)
	if err != nil {
		return nil, fmt.Errorf("getting scan: %w", err)
	}
	if n < 0 || n >= len(record.ImageFiles) {
		return nil, fmt.Errorf("scan image %d: %w", n, ErrNotFound)
	}
	data, err := s.storage.Get(record.ImageFiles[n])
	if err != nil {
		return nil, fmt.Errorf("getting scan image: %w", err)
	}
	return data, nil
}

// DeleteScan removes a scan record and its images
func (s *Service) DeleteScan(id string) error {
	record, err := s.db.GetScanRecord(id)
	if err != nil {
		return fmt.Errorf("getting scan for deletion: %w", err)
	}
	s.removeFiles(record.ImageFiles)
	if err := s.db.DeleteScanRecord(id); err != nil {
		return fmt.Errorf("deleting scan from database: %w", err)
	}
	return nil
}

// GetPreferences returns the user's preferences
func (s *Service) GetPreferences() (*Preferences, error) {
	prefs, err := s.db.GetPreferences()
	if err != nil {
		return nil, fmt.Errorf("getting preferences: %w", err)
	}
	return prefs, nil
}

// SavePreferences validates and stores the user's preferences
func (s *Service) SavePreferences(prefs *Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}
	prefs.DietaryRestrictions = nonNil(prefs.DietaryRestrictions)
	prefs.Allergies = nonNil(prefs.Allergies)
	prefs.CuisinePreferences = nonNil(prefs.CuisinePreferences)
	if err := s.db.SavePreferences(prefs); err != nil {
		return fmt.Errorf("saving preferences: %w", err)
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func (s *Service) removeFiles(paths []string) {
	for _, path := range paths {
		if err := s.storage.Delete(path); err != nil {
			slog.Warn("Failed to delete file", "filename", path, "error", err)
		}
	}
}
