package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrPassageNotFound is returned by GetPassage for an unknown ID
var ErrPassageNotFound = goerr.New("passage not found")

const (
	defaultPassageCollection = "passages"

	// overFetch widens the nearest neighbour query so that re-scoring and
	// tie-breaking in the retriever work on more than exactly k candidates
	overFetch = 4
)

// Firestore stores passages as documents with a vector field and serves
// candidates through Firestore vector search
type Firestore struct {
	client     *firestore.Client
	collection string
}

type FirestoreOption func(*Firestore)

func WithCollection(name string) FirestoreOption {
	return func(f *Firestore) {
		f.collection = name
	}
}

// NewFirestore connects to the Firestore database of the project
func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("project ID is required for Firestore")
	}
	var (
		client *firestore.Client
		err    error
	)
	if databaseID == "" || databaseID == firestore.DefaultDatabaseID {
		client, err = firestore.NewClient(ctx, projectID)
	} else {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	f := &Firestore{
		client:     client,
		collection: defaultPassageCollection,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) passages() *firestore.CollectionRef {
	return f.client.Collection(f.collection)
}

// PutPassage writes a passage keyed by its ID, replacing any previous version
func (f *Firestore) PutPassage(ctx context.Context, p *model.Passage) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if len(p.Embedding) == 0 {
		return goerr.Wrap(model.ErrInvalidInput, "passage has no embedding", goerr.V("id", p.ID))
	}

	if _, err := f.passages().Doc(string(p.ID)).Set(ctx, p); err != nil {
		return wrapFirestoreError(err, "failed to put passage", goerr.V("id", p.ID))
	}
	return nil
}

func (f *Firestore) GetPassage(ctx context.Context, id model.PassageID) (*model.Passage, error) {
	doc, err := f.passages().Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrPassageNotFound, "no such passage", goerr.V("id", id))
		}
		return nil, wrapFirestoreError(err, "failed to get passage", goerr.V("id", id))
	}

	var p model.Passage
	if err := doc.DataTo(&p); err != nil {
		return nil, goerr.Wrap(err, "failed to decode passage", goerr.V("id", id))
	}
	return &p, nil
}

// ListPassages returns passages of a domain ordered by ID. DomainGeneral lists all.
func (f *Firestore) ListPassages(ctx context.Context, domain model.Domain, offset, limit int) ([]*model.Passage, error) {
	q := f.passages().Query
	if domain != model.DomainGeneral {
		q = q.Where("Domain", "==", string(domain))
	}
	q = q.OrderBy("ID", firestore.Asc).Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var passages []*model.Passage
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, wrapFirestoreError(err, "failed to list passages", goerr.V("domain", domain))
		}

		var p model.Passage
		if err := doc.DataTo(&p); err != nil {
			return nil, goerr.Wrap(err, "failed to decode passage", goerr.V("doc", doc.Ref.ID))
		}
		passages = append(passages, &p)
	}
	return passages, nil
}

// Candidates runs a cosine nearest neighbour query restricted to the domain
func (f *Firestore) Candidates(ctx context.Context, domain model.Domain, vector []float32, k int) ([]*model.Passage, error) {
	if k <= 0 {
		return nil, nil
	}

	q := f.passages().Query
	if domain != model.DomainGeneral {
		q = q.Where("Domain", "==", string(domain))
	}

	vq := q.FindNearest("Embedding", firestore.Vector32(vector), k*overFetch, firestore.DistanceMeasureCosine, nil)
	iter := vq.Documents(ctx)
	defer iter.Stop()

	var passages []*model.Passage
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, wrapFirestoreError(err, "failed to search passages", goerr.V("domain", domain), goerr.V("k", k))
		}

		var p model.Passage
		if err := doc.DataTo(&p); err != nil {
			return nil, goerr.Wrap(err, "failed to decode passage", goerr.V("doc", doc.Ref.ID))
		}
		passages = append(passages, &p)
	}
	return passages, nil
}

// wrapFirestoreError marks failures that mean the index is unreachable
func wrapFirestoreError(err error, msg string, opts ...goerr.Option) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		opts = append(opts, goerr.V("cause", err.Error()), goerr.V("code", status.Code(err).String()))
		return goerr.Wrap(model.ErrRetrievalService, msg, opts...)
	default:
		return goerr.Wrap(err, msg, opts...)
	}
}
