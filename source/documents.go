package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mashable/elasticsearch-river-mongodb/document"
	"github.com/mashable/elasticsearch-river-mongodb/river"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const systemPrefix = "system."

// Documents reads the watched database
type Documents struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewDocuments creates a reader over database
func NewDocuments(client *mongo.Client, database string) *Documents {
	return &Documents{client: client, db: client.Database(database)}
}

// FindOne returns the first document of collection matching selector, nil
// when none does
func (d *Documents) FindOne(ctx context.Context, collection string, selector *document.Document) (*document.Document, error) {
	raw, err := d.db.Collection(collection).FindOne(ctx, selectorD(selector)).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(ctx, err)
	}

	doc, err := document.FromRaw(raw)
	if err != nil {
		return nil, river.Fatal(err)
	}
	return doc, nil
}

// CollectionNames lists user collections, system collections excluded
func (d *Documents) CollectionNames(ctx context.Context) ([]string, error) {
	names, err := d.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, classify(ctx, err)
	}
	return UserCollections(names), nil
}

// UserCollections drops system collections from names
func UserCollections(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, systemPrefix) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// Indexes returns the index specifications of a "db.collection" namespace
func (d *Documents) Indexes(ctx context.Context, namespace string) ([]river.IndexSpec, error) {
	db, coll, ok := SplitNamespace(namespace)
	if !ok {
		return nil, river.Fatal(fmt.Errorf("invalid namespace %q", namespace))
	}

	specs, err := d.client.Database(db).Collection(coll).Indexes().ListSpecifications(ctx)
	if err != nil {
		return nil, classify(ctx, err)
	}

	out := make([]river.IndexSpec, 0, len(specs))
	for _, spec := range specs {
		keys, err := indexKeys(spec.KeysDocument)
		if err != nil {
			return nil, river.Fatal(fmt.Errorf("invalid keys of index %s on %s: %w", spec.Name, namespace, err))
		}
		out = append(out, river.IndexSpec{Name: spec.Name, Keys: keys})
	}
	return out, nil
}

// Scan streams every document of collection to fn in _id order
func (d *Documents) Scan(ctx context.Context, collection string, fn func(*document.Document) error) error {
	opts := options.Find().SetSort(bson.D{{Key: document.IDField, Value: 1}})
	cur, err := d.db.Collection(collection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return classify(ctx, err)
	}
	defer cur.Close(context.WithoutCancel(ctx))

	for cur.Next(ctx) {
		doc, err := document.FromRaw(cur.Current)
		if err != nil {
			return river.Fatal(err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return classify(ctx, cur.Err())
}

// SplitNamespace splits "db.collection" at the first dot
func SplitNamespace(namespace string) (db, collection string, ok bool) {
	db, collection, ok = strings.Cut(namespace, ".")
	if !ok || db == "" || collection == "" {
		return "", "", false
	}
	return db, collection, true
}

func indexKeys(raw bson.Raw) ([]string, error) {
	elems, err := raw.Elements()
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(elems))
	for i, elem := range elems {
		keys[i] = elem.Key()
	}
	return keys, nil
}

func selectorD(selector *document.Document) bson.D {
	if selector == nil {
		return bson.D{}
	}
	return selector.D()
}
