package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/zombor/invoice-importer/internal/extraction"
)

const (
	productsBucketName   = "products"
	referencesBucketName = "references"
)

// ErrProductNotFound is returned when a product does not exist for an owner
var ErrProductNotFound = errors.New("product not found")

// DB defines the interface for inventory storage
type DB interface {
	// Import adds extracted records to an owner's stock
	Import(ownerID, jobID string, records []extraction.Record) ([]*Product, error)

	// GetProduct retrieves one of an owner's products
	GetProduct(ownerID, id string) (*Product, error)

	// ListProducts returns all products of an owner
	ListProducts(ownerID string) ([]*Product, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB. Products live in a bucket per
// owner, and a parallel bucket maps each owner's references to product IDs.
type BoltDB struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(productsBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(referencesBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db, now: time.Now}, nil
}

// Import merges records into the owner's products in one transaction. A record
// whose reference is already known adds its quantity to that product's stock and
// refreshes its prices; anything else becomes a new product. Affected products
// are returned in first-seen order.
func (b *BoltDB) Import(ownerID, jobID string, records []extraction.Record) ([]*Product, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	affected := make([]*Product, 0, len(records))
	err := b.db.Update(func(tx *bbolt.Tx) error {
		products, err := tx.Bucket([]byte(productsBucketName)).CreateBucketIfNotExists([]byte(ownerID))
		if err != nil {
			return fmt.Errorf("creating owner bucket: %w", err)
		}
		refs, err := tx.Bucket([]byte(referencesBucketName)).CreateBucketIfNotExists([]byte(ownerID))
		if err != nil {
			return fmt.Errorf("creating owner reference bucket: %w", err)
		}

		now := b.now()
		seen := make(map[string]*Product)
		for _, record := range records {
			product, err := findByReference(products, refs, record.Reference)
			if err != nil {
				return err
			}
			if product == nil {
				product = &Product{
					ID:        uuid.NewString(),
					OwnerID:   ownerID,
					Reference: record.Reference,
					CreatedAt: now,
				}
			} else if cached, ok := seen[product.ID]; ok {
				product = cached
			}

			product.Name = record.Name
			product.PriceHT = record.PriceHT
			product.PriceTTC = record.PriceTTC
			product.TVA = record.TVA
			product.CurrentStock += record.Quantity
			product.LastJobID = jobID
			product.UpdatedAt = now

			if err := putProduct(products, product); err != nil {
				return err
			}
			if product.Reference != "" {
				if err := refs.Put([]byte(product.Reference), []byte(product.ID)); err != nil {
					return fmt.Errorf("indexing reference: %w", err)
				}
			}

			if _, ok := seen[product.ID]; !ok {
				seen[product.ID] = product
				affected = append(affected, product)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return affected, nil
}

func findByReference(products, refs *bbolt.Bucket, reference string) (*Product, error) {
	if reference == "" {
		return nil, nil
	}
	id := refs.Get([]byte(reference))
	if id == nil {
		return nil, nil
	}
	data := products.Get(id)
	if data == nil {
		return nil, nil
	}
	var product Product
	if err := json.Unmarshal(data, &product); err != nil {
		return nil, fmt.Errorf("unmarshaling product: %w", err)
	}
	return &product, nil
}

func putProduct(bucket *bbolt.Bucket, product *Product) error {
	data, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("marshaling product: %w", err)
	}
	return bucket.Put([]byte(product.ID), data)
}

// GetProduct retrieves one of an owner's products
func (b *BoltDB) GetProduct(ownerID, id string) (*Product, error) {
	var product *Product
	err := b.db.View(func(tx *bbolt.Tx) error {
		products := tx.Bucket([]byte(productsBucketName)).Bucket([]byte(ownerID))
		if products == nil {
			return fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		data := products.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		return json.Unmarshal(data, &product)
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// ListProducts returns all products of an owner
func (b *BoltDB) ListProducts(ownerID string) ([]*Product, error) {
	products := make([]*Product, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(productsBucketName)).Bucket([]byte(ownerID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var product Product
			if err := json.Unmarshal(v, &product); err != nil {
				return fmt.Errorf("unmarshaling product: %w", err)
			}
			products = append(products, &product)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
