package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// TenantsCollection is the root collection; every tenant owned collection lives beneath tenants/{id}.
const TenantsCollection = "tenants"

// ErrTenantRequired is returned when a tenant scoped call omits the tenant id.
var ErrTenantRequired = errors.New("firestore: tenant id is required")

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Decoder hydrates the strongly typed entity from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// TenantCollection provides typed access to a collection nested under a tenant document. It cannot
// be used without a tenant id, so no read crosses tenants.
type TenantCollection[T any] struct {
	provider   *Provider
	collection string
	decode     Decoder[T]
}

// NewTenantCollection binds a typed collection name under tenants/{tenantID}.
func NewTenantCollection[T any](provider *Provider, collection string, decode Decoder[T]) *TenantCollection[T] {
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &TenantCollection[T]{
		provider:   provider,
		collection: strings.TrimSpace(collection),
		decode:     decode,
	}
}

// Set upserts the given value under the provided document ID.
func (c *TenantCollection[T]) Set(ctx context.Context, tenantID, id string, value any) error {
	doc, err := c.DocumentRef(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if _, err := doc.Set(ctx, value); err != nil {
		return WrapError(c.op("set"), err)
	}
	return nil
}

// Get fetches the document by ID and decodes it.
func (c *TenantCollection[T]) Get(ctx context.Context, tenantID, id string) (Document[T], error) {
	doc, err := c.DocumentRef(ctx, tenantID, id)
	if err != nil {
		return Document[T]{}, err
	}
	snapshot, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return c.decodeDocument(snapshot)
}

// GetAll fetches the documents for ids in one round trip. Missing documents are omitted.
func (c *TenantCollection[T]) GetAll(ctx context.Context, tenantID string, ids []string) (map[string]Document[T], error) {
	result := make(map[string]Document[T], len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	coll, err := c.CollectionRef(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		refs = append(refs, coll.Doc(id))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	snapshots, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, WrapError(c.op("get_all"), err)
	}
	for _, snapshot := range snapshots {
		if snapshot == nil || !snapshot.Exists() {
			continue
		}
		decoded, err := c.decodeDocument(snapshot)
		if err != nil {
			return nil, fmt.Errorf("firestore: decode document %s: %w", snapshot.Ref.ID, err)
		}
		result[decoded.ID] = decoded
	}
	return result, nil
}

// Query executes a query over the tenant's collection and returns the decoded documents.
func (c *TenantCollection[T]) Query(ctx context.Context, tenantID string, build QueryBuilder) ([]Document[T], error) {
	coll, err := c.CollectionRef(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		decoded, err := c.decodeDocument(snapshot)
		if err != nil {
			return nil, fmt.Errorf("firestore: decode document %s: %w", snapshot.Ref.ID, err)
		}
		docs = append(docs, decoded)
	}
	return docs, nil
}

// DocumentRef exposes the document reference for transactional access.
func (c *TenantCollection[T]) DocumentRef(ctx context.Context, tenantID, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.CollectionRef(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// CollectionRef resolves tenants/{tenantID}/{collection}.
func (c *TenantCollection[T]) CollectionRef(ctx context.Context, tenantID string) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError(c.op("collection"), errors.New("firestore: provider is nil"))
	}
	if c.collection == "" {
		return nil, WrapError(c.op("collection"), errors.New("firestore: collection name is required"))
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, WrapError(c.op("collection"), ErrTenantRequired)
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(TenantsCollection).Doc(tenantID).Collection(c.collection), nil
}

// Decode converts a snapshot read elsewhere, for example inside a transaction.
func (c *TenantCollection[T]) Decode(snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	return c.decodeDocument(snapshot)
}

func (c *TenantCollection[T]) decodeDocument(snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	entity, err := c.decode(snapshot)
	if err != nil {
		return Document[T]{}, err
	}
	return Document[T]{
		ID:         snapshot.Ref.ID,
		Data:       entity,
		CreateTime: snapshot.CreateTime,
		UpdateTime: snapshot.UpdateTime,
	}, nil
}

func (c *TenantCollection[T]) op(action string) string {
	name := "firestore"
	if c != nil && c.collection != "" {
		name = c.collection
	}
	return fmt.Sprintf("%s.%s", name, strings.ToLower(action))
}

// StructDecoder populates the target struct using Firestore's native decoding.
func StructDecoder[T any]() Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		if err := snap.DataTo(&target); err != nil {
			return target, err
		}
		return target, nil
	}
}
