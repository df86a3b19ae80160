package index

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/udayk/docqa/internal/chunker"
)

// Qdrant is a Store backed by a Qdrant collection, for deployments where the
// corpus outgrows a linear scan. Entry IDs are assigned locally and used as
// numeric point IDs. Removal keeps a local tombstone set and filters hits
// after every search, so removed documents stay invisible even when the
// remote delete has not landed yet.
type Qdrant struct {
	mu         sync.Mutex
	conn       *grpc.ClientConn
	points     pb.PointsClient
	collection string
	dim        int
	nextID     int
	docIDs     map[string][]int
	dead       map[int]struct{}
}

// OpenQdrant connects to a Qdrant instance and rebuilds the local ID
// bookkeeping from the points already in the collection, so a restart never
// reissues point IDs or forgets previously ingested documents. The collection
// must exist and be configured for cosine distance with the embedder's
// dimension.
func OpenQdrant(ctx context.Context, host string, port int, collection string, dim int) (*Qdrant, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	q := newQdrant(pb.NewPointsClient(conn), collection, dim)
	q.conn = conn
	if err := q.restore(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func newQdrant(points pb.PointsClient, collection string, dim int) *Qdrant {
	return &Qdrant{
		points:     points,
		collection: collection,
		dim:        dim,
		docIDs:     make(map[string][]int),
		dead:       make(map[int]struct{}),
	}
}

// restore pages through the collection and reseeds nextID and docIDs from the
// stored points. Tombstones are not rebuilt: a point that survived on the
// server is live by definition.
func (q *Qdrant) restore(ctx context.Context) error {
	var offset *pb.PointId
	limit := uint32(256)
	for {
		resp, err := q.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: q.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return fmt.Errorf("qdrant scroll: %w", err)
		}

		q.mu.Lock()
		for _, pt := range resp.Result {
			id := int(pt.Id.GetNum())
			doc := pt.Payload["document"].GetStringValue()
			q.docIDs[doc] = append(q.docIDs[doc], id)
			if id >= q.nextID {
				q.nextID = id + 1
			}
		}
		q.mu.Unlock()

		if resp.NextPageOffset == nil {
			return nil
		}
		offset = resp.NextPageOffset
	}
}

func (q *Qdrant) Insert(ctx context.Context, entries []Entry) error {
	for i, e := range entries {
		if len(e.Vector) != q.dim {
			return fmt.Errorf("%w: entry %d has dimension %d, want %d",
				ErrDimensionMismatch, i, len(e.Vector), q.dim)
		}
	}

	q.mu.Lock()
	points := make([]*pb.PointStruct, len(entries))
	ids := make(map[string][]int)
	base := q.nextID
	for i, e := range entries {
		id := base + i
		ids[e.Chunk.Document] = append(ids[e.Chunk.Document], id)
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(id)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: e.Vector},
			}},
			Payload: map[string]*pb.Value{
				"text":     {Kind: &pb.Value_StringValue{StringValue: e.Chunk.Text}},
				"document": {Kind: &pb.Value_StringValue{StringValue: e.Chunk.Document}},
				"page":     {Kind: &pb.Value_IntegerValue{IntegerValue: int64(e.Chunk.Page)}},
				"seq":      {Kind: &pb.Value_IntegerValue{IntegerValue: int64(e.Chunk.Seq)}},
			},
		}
	}
	q.mu.Unlock()

	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}

	// Commit the batch only after the remote write succeeded.
	q.mu.Lock()
	q.nextID = base + len(entries)
	for doc, list := range ids {
		q.docIDs[doc] = append(q.docIDs[doc], list...)
	}
	q.mu.Unlock()
	return nil
}

func (q *Qdrant) Search(ctx context.Context, vector []float32, n int) ([]Hit, error) {
	if len(vector) != q.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, want %d",
			ErrDimensionMismatch, len(vector), q.dim)
	}

	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(n),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	hits := make([]Hit, 0, len(resp.Result))
	for _, pt := range resp.Result {
		id := int(pt.Id.GetNum())
		if _, gone := q.dead[id]; gone {
			continue
		}
		hits = append(hits, Hit{
			ID:    id,
			Score: pt.Score,
			Chunk: chunker.Chunk{
				Text:     pt.Payload["text"].GetStringValue(),
				Document: pt.Payload["document"].GetStringValue(),
				Page:     int(pt.Payload["page"].GetIntegerValue()),
				Seq:      int(pt.Payload["seq"].GetIntegerValue()),
			},
		})
	}

	// Qdrant orders by score but leaves ties unspecified; re-sort with the
	// same discipline as the flat store.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	return hits, nil
}

func (q *Qdrant) Remove(ctx context.Context, document string) error {
	q.mu.Lock()
	ids := q.docIDs[document]
	for _, id := range ids {
		q.dead[id] = struct{}{}
	}
	delete(q.docIDs, document)
	q.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(id)}}
	}
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		// The tombstones already hide the document; storage reclamation
		// can be retried later.
		return fmt.Errorf("qdrant delete %s: %w", strconv.Quote(document), err)
	}
	return nil
}

func (q *Qdrant) Documents(ctx context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	docs := make([]string, 0, len(q.docIDs))
	for d := range q.docIDs {
		docs = append(docs, d)
	}
	sort.Strings(docs)
	return docs, nil
}

func (q *Qdrant) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextID
}

// Flush is a no-op: every Insert is already durable on the server.
func (q *Qdrant) Flush() error { return nil }

func (q *Qdrant) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}
