package upload

import (
	"context"
	"fmt"
	"os"
	"time"

	supabase "github.com/supabase-community/supabase-go"

	"github.com/ocx/accessd/internal/model"
)

const transactionsTable = "transactions"

// remoteDocument is the wire shape written to the remote document store:
// the local Transaction plus the two fields the local log never carries.
type remoteDocument struct {
	Name      string `json:"name"`
	Card      string `json:"card"`
	Reader    int    `json:"reader"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	EntityID  string `json:"entity_id"`
	CreatedAt int64  `json:"created_at"`
}

// SupabaseStore writes Transactions to a Supabase table. Grounded on
// internal/database/supabase.go's client wrapper, narrowed to the single
// insert this appliance needs.
type SupabaseStore struct {
	client *supabase.Client
}

// NewSupabaseStore reads SUPABASE_URL / SUPABASE_SERVICE_KEY from the
// environment. Returns an error if either is unset; the composition root
// treats that as "no remote client initialized" and runs the upload
// pipeline cache-only.
func NewSupabaseStore() (*SupabaseStore, error) {
	url := os.Getenv("SUPABASE_URL")
	key := os.Getenv("SUPABASE_SERVICE_KEY")
	if url == "" || key == "" {
		return nil, fmt.Errorf("upload: SUPABASE_URL and SUPABASE_SERVICE_KEY must be set")
	}
	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("upload: create supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

// Write implements RemoteStore.
func (s *SupabaseStore) Write(ctx context.Context, tx model.Transaction, entityID string) error {
	doc := remoteDocument{
		Name:      tx.Name,
		Card:      tx.Card,
		Reader:    tx.Reader,
		Status:    string(tx.Status),
		Timestamp: tx.Timestamp,
		EntityID:  entityID,
		CreatedAt: time.Now().Unix(),
	}
	var result []map[string]interface{}
	_, err := s.client.From(transactionsTable).
		Insert(doc, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("upload: insert transaction: %w", err)
	}
	return nil
}
