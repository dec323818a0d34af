package kitchen

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	pantryBucketName      = "pantry"
	recipeBucketName      = "recipes"
	scanBucketName        = "scans"
	preferencesBucketName = "preferences"

	preferencesKey = "current"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// DB defines the interface for database operations
type DB interface {
	// SavePantryItem inserts or replaces a pantry item
	SavePantryItem(item *PantryItem) error
	GetPantryItem(id string) (*PantryItem, error)
	// ListPantryItems returns all pantry items sorted by name
	ListPantryItems() ([]*PantryItem, error)
	DeletePantryItem(id string) error

	// SaveRecipe inserts or replaces a recipe
	SaveRecipe(recipe *Recipe) error
	GetRecipe(id string) (*Recipe, error)
	// ListRecipes returns all recipes, newest first
	ListRecipes() ([]*Recipe, error)
	DeleteRecipe(id string) error

	// SaveScanRecord inserts or replaces a scan history record
	SaveScanRecord(record *ScanRecord) error
	GetScanRecord(id string) (*ScanRecord, error)
	// ListScanRecords returns all scan records, newest first
	ListScanRecords() ([]*ScanRecord, error)
	DeleteScanRecord(id string) error

	// GetPreferences returns the stored preferences, or defaults if none were saved
	GetPreferences() (*Preferences, error)
	SavePreferences(prefs *Preferences) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{pantryBucketName, recipeBucketName, scanBucketName, preferencesBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func put[T any](b *BoltDB, bucket, key string, v *T) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %s record: %w", bucket, err)
		}
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

func get[T any](b *BoltDB, bucket, key string) (*T, error) {
	var v *T
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s record %s: %w", bucket, key, ErrNotFound)
		}
		return json.Unmarshal(data, &v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func list[T any](b *BoltDB, bucket string) ([]*T, error) {
	items := make([]*T, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(k, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling %s record %s: %w", bucket, k, err)
			}
			items = append(items, &item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func del(b *BoltDB, bucket, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt.Get([]byte(key)) == nil {
			return fmt.Errorf("%s record %s: %w", bucket, key, ErrNotFound)
		}
		return bkt.Delete([]byte(key))
	})
}

// SavePantryItem saves a pantry item to the database
func (b *BoltDB) SavePantryItem(item *PantryItem) error {
	return put(b, pantryBucketName, item.ID, item)
}

// GetPantryItem retrieves a pantry item by ID
func (b *BoltDB) GetPantryItem(id string) (*PantryItem, error) {
	return get[PantryItem](b, pantryBucketName, id)
}

// ListPantryItems returns all pantry items
func (b *BoltDB) ListPantryItems() ([]*PantryItem, error) {
	items, err := list[PantryItem](b, pantryBucketName)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// DeletePantryItem removes a pantry item
func (b *BoltDB) DeletePantryItem(id string) error {
	return del(b, pantryBucketName, id)
}

// SaveRecipe saves a recipe to the database
func (b *BoltDB) SaveRecipe(recipe *Recipe) error {
	return put(b, recipeBucketName, recipe.ID, recipe)
}

// GetRecipe retrieves a recipe by ID
func (b *BoltDB) GetRecipe(id string) (*Recipe, error) {
	return get[Recipe](b, recipeBucketName, id)
}

// ListRecipes returns all recipes
func (b *BoltDB) ListRecipes() ([]*Recipe, error) {
	recipes, err := list[Recipe](b, recipeBucketName)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recipes, func(i, j int) bool { return recipes[i].DateCreated.After(recipes[j].DateCreated) })
	return recipes, nil
}

// DeleteRecipe removes a recipe
func (b *BoltDB) DeleteRecipe(id string) error {
	return del(b, recipeBucketName, id)
}

// SaveScanRecord saves a scan record to the database
func (b *BoltDB) SaveScanRecord(record *ScanRecord) error {
	return put(b, scanBucketName, record.ID, record)
}

// GetScanRecord retrieves a scan record by ID
func (b *BoltDB) GetScanRecord(id string) (*ScanRecord, error) {
	return get[ScanRecord](b, scanBucketName, id)
}

// ListScanRecords returns all scan records
func (b *BoltDB) ListScanRecords() ([]*ScanRecord, error) {
	records, err := list[ScanRecord](b, scanBucketName)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Date.After(records[j].Date) })
	return records, nil
}

// DeleteScanRecord removes a scan record
func (b *BoltDB) DeleteScanRecord(id string) error {
	return del(b, scanBucketName, id)
}

// GetPreferences retrieves the stored preferences
func (b *BoltDB) GetPreferences() (*Preferences, error) {
	prefs, err := get[Preferences](b, preferencesBucketName, preferencesKey)
	if errors.Is(err, ErrNotFound) {
		return DefaultPreferences(), nil
	}
	return prefs, err
}

// SavePreferences replaces the stored preferences
func (b *BoltDB) SavePreferences(prefs *Preferences) error {
	return put(b, preferencesBucketName, preferencesKey, prefs)
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
