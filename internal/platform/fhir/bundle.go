package fhir

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Request  *BundleRequest  `json:"request,omitempty"`
}

type BundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// NewTransactionBundle creates an empty transaction Bundle.
func NewTransactionBundle() *Bundle {
	now := time.Now().UTC()
	return &Bundle{
		ResourceType: "Bundle",
		ID:           uuid.NewString(),
		Type:         "transaction",
		Timestamp:    &now,
	}
}

// AddPut appends an entry that upserts a resource at a known path, used for
// entities with a stable natural key.
func (b *Bundle) AddPut(resource interface{}, resourceType, id string) error {
	return b.add(resource, "PUT", FormatReference(resourceType, id))
}

// AddPost appends an entry that creates a resource in a collection, used for
// entities without a stable natural key.
func (b *Bundle) AddPost(resource interface{}, resourceType string) error {
	return b.add(resource, "POST", resourceType)
}

func (b *Bundle) add(resource interface{}, method, url string) error {
	raw, err := json.Marshal(resource)
	if err != nil {
		return err
	}
	b.Entry = append(b.Entry, BundleEntry{
		FullURL:  "urn:uuid:" + uuid.NewString(),
		Resource: raw,
		Request:  &BundleRequest{Method: method, URL: url},
	})
	return nil
}
