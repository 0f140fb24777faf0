package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/regionlens/internal/capture"
	"github.com/zombor/regionlens/internal/provider"
)

const bucketName = "regionlens"

// Durable keys
const (
	KeyPendingCapture    = "pendingCapture"
	KeyLastExtractedText = "lastExtractedText"
	KeyLastPreviewImage  = "lastPreviewImage"
	KeyLastAIResponse    = "lastAiResponse"
	KeyOCRServiceConfig  = "ocrServiceConfig"
	KeyAIServiceConfig   = "aiServiceConfig"
)

var (
	// ErrNoPending is returned when the pending capture slot is empty
	ErrNoPending = errors.New("no pending capture")
	// ErrNotFound is returned when a key has never been written
	ErrNotFound = errors.New("not found")
)

// BoltDB is the durable key-value store shared by the capture and pipeline
// contexts
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the database at path
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// PutPendingCapture overwrites the pending slot; the last write wins
func (b *BoltDB) PutPendingCapture(bundle *capture.Bundle) error {
	return b.putJSON(KeyPendingCapture, bundle)
}

// TakePendingCapture reads and clears the pending slot in one transaction,
// so each bundle is consumed at most once
func (b *BoltDB) TakePendingCapture() (*capture.Bundle, error) {
	var (
		bundle    *capture.Bundle
		decodeErr error
	)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(KeyPendingCapture))
		if data == nil {
			return ErrNoPending
		}
		// data is only valid inside the transaction; decode before deleting.
		// A corrupt bundle is still cleared so it cannot wedge the slot.
		decodeErr = json.Unmarshal(data, &bundle)
		return bucket.Delete([]byte(KeyPendingCapture))
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("unmarshaling pending capture: %w", decodeErr)
	}
	return bundle, nil
}

// SaveExtractedText stores the latest OCR result
func (b *BoltDB) SaveExtractedText(text string) error {
	return b.put(KeyLastExtractedText, []byte(text))
}

// LastExtractedText returns the latest OCR result
func (b *BoltDB) LastExtractedText() (string, error) {
	data, err := b.get(KeyLastExtractedText)
	return string(data), err
}

// SaveAIResponse stores the latest AI answer
func (b *BoltDB) SaveAIResponse(text string) error {
	return b.put(KeyLastAIResponse, []byte(text))
}

// LastAIResponse returns the latest AI answer
func (b *BoltDB) LastAIResponse() (string, error) {
	data, err := b.get(KeyLastAIResponse)
	return string(data), err
}

// SavePreviewImage stores the latest cropped PNG
func (b *BoltDB) SavePreviewImage(png []byte) error {
	return b.put(KeyLastPreviewImage, png)
}

// LastPreviewImage returns the latest cropped PNG
func (b *BoltDB) LastPreviewImage() ([]byte, error) {
	return b.get(KeyLastPreviewImage)
}

// SaveServiceConfig stores the provider configuration for a purpose
func (b *BoltDB) SaveServiceConfig(purpose provider.Purpose, cfg provider.Config) error {
	key, err := configKey(purpose)
	if err != nil {
		return err
	}
	return b.putJSON(key, cfg)
}

// ServiceConfig returns the provider configuration for a purpose
func (b *BoltDB) ServiceConfig(purpose provider.Purpose) (provider.Config, error) {
	var cfg provider.Config
	key, err := configKey(purpose)
	if err != nil {
		return cfg, err
	}
	data, err := b.get(key)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshaling %s: %w", key, err)
	}
	return cfg, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func configKey(purpose provider.Purpose) (string, error) {
	switch purpose {
	case provider.PurposeOCR:
		return KeyOCRServiceConfig, nil
	case provider.PurposeAI:
		return KeyAIServiceConfig, nil
	}
	return "", fmt.Errorf("unknown service purpose %q", purpose)
}

func (b *BoltDB) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return b.put(key, data)
}

func (b *BoltDB) put(key string, value []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), value)
	})
}

func (b *BoltDB) get(key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		out = append([]byte{}, data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
