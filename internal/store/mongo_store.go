package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoSeqColl      = "seq"
	mongoCounterColl  = "seq_counters"
	mongoScoredColl   = "scored"
	mongoKVColl       = "kv"
	mongoDefaultDB    = "relyq"
	mongoBackendLabel = "mongo"
)

// MongoStore is a Store backed by MongoDB. Every batch runs in one
// multi-document transaction, so the deployment must be a replica set (a
// single-node replica set is enough).
//
// Collections:
//
//	seq           {name, member, n}       n taken from seq_counters, ascending = FIFO
//	seq_counters  {_id: name, n}
//	scored        {_id: {n: name, m: member}, score}
//	kv            {_id: {n: name, m: member}, value}
type MongoStore struct {
	client   *mongo.Client
	db       *mongo.Database
	seq      *mongo.Collection
	counters *mongo.Collection
	scored   *mongo.Collection
	kv       *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

type mongoKey struct {
	Name   string `bson:"n"`
	Member string `bson:"m"`
}

type mongoSeqDoc struct {
	Name   string `bson:"name"`
	Member string `bson:"member"`
	N      int64  `bson:"n"`
}

type mongoScoredDoc struct {
	ID    mongoKey `bson:"_id"`
	Score int64    `bson:"score"`
}

type mongoKVDoc struct {
	ID    mongoKey `bson:"_id"`
	Value []byte   `bson:"value"`
}

// NewMongoStore creates the collections and indexes it needs in dbName
// (default "relyq") and returns a MongoStore. The caller owns client.
func NewMongoStore(ctx context.Context, client *mongo.Client, dbName string) (*MongoStore, error) {
	if dbName == "" {
		dbName = mongoDefaultDB
	}
	db := client.Database(dbName)
	s := &MongoStore{
		client:   client,
		db:       db,
		seq:      db.Collection(mongoSeqColl),
		counters: db.Collection(mongoCounterColl),
		scored:   db.Collection(mongoScoredColl),
		kv:       db.Collection(mongoKVColl),
	}
	if err := s.initCollections(ctx); err != nil {
		return nil, unavailable(mongoBackendLabel, err)
	}
	return s, nil
}

// initCollections creates collections up front; implicit creation inside a
// transaction is not allowed on every server version.
func (s *MongoStore) initCollections(ctx context.Context) error {
	existing, err := s.db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, n := range existing {
		have[n] = true
	}
	for _, n := range []string{mongoSeqColl, mongoCounterColl, mongoScoredColl, mongoKVColl} {
		if have[n] {
			continue
		}
		if err := s.db.CreateCollection(ctx, n); err != nil {
			var ce mongo.CommandError
			if errors.As(err, &ce) && ce.Code == 48 { // NamespaceExists
				continue
			}
			return err
		}
	}

	if _, err := s.seq.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "name", Value: 1}, {Key: "n", Value: 1}},
	}); err != nil {
		return err
	}
	_, err = s.scored.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "_id.n", Value: 1}, {Key: "score", Value: 1}},
	})
	return err
}

func (s *MongoStore) Exec(ctx context.Context, b *Batch) (Results, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, unavailable(mongoBackendLabel, err)
	}
	defer sess.EndSession(ctx)

	out, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return run(sc, b, mongoTx{s})
	})
	if err != nil {
		return nil, unavailable(mongoBackendLabel, err)
	}
	return out.(Results), nil
}

func (s *MongoStore) RangeByScore(ctx context.Context, assoc string, min, max int64) ([]string, error) {
	cur, err := s.scored.Find(ctx,
		bson.M{"_id.n": assoc, "score": bson.M{"$gte": min, "$lte": max}},
		options.Find().SetSort(bson.D{{Key: "score", Value: 1}, {Key: "_id.m", Value: 1}}),
	)
	if err != nil {
		return nil, unavailable(mongoBackendLabel, err)
	}
	defer cur.Close(ctx)

	var out []string
	for cur.Next(ctx) {
		var doc mongoScoredDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, unavailable(mongoBackendLabel, err)
		}
		out = append(out, doc.ID.Member)
	}
	if err := cur.Err(); err != nil {
		return nil, unavailable(mongoBackendLabel, err)
	}
	return out, nil
}

// mongoTx implements primitives; ctx is the transaction's SessionContext.
type mongoTx struct{ s *MongoStore }

func (t mongoTx) append(ctx context.Context, seq, member string) error {
	var counter struct {
		N int64 `bson:"n"`
	}
	err := t.s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": seq},
		bson.M{"$inc": bson.M{"n": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return err
	}
	_, err = t.s.seq.InsertOne(ctx, mongoSeqDoc{Name: seq, Member: member, N: counter.N})
	return err
}

func (t mongoTx) popHead(ctx context.Context, seq string) (string, bool, error) {
	var doc mongoSeqDoc
	err := t.s.seq.FindOneAndDelete(ctx,
		bson.M{"name": seq},
		options.FindOneAndDelete().SetSort(bson.D{{Key: "n", Value: 1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return doc.Member, true, nil
}

func (t mongoTx) scoreAdd(ctx context.Context, assoc, member string, score int64) (bool, error) {
	res, err := t.s.scored.UpdateOne(ctx,
		bson.M{"_id": mongoKey{Name: assoc, Member: member}},
		bson.M{"$set": bson.M{"score": score}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, err
	}
	return res.UpsertedCount > 0, nil
}

func (t mongoTx) scoreRemove(ctx context.Context, assoc, member string, max *int64) (int64, error) {
	filter := bson.M{"_id": mongoKey{Name: assoc, Member: member}}
	if max != nil {
		filter["score"] = bson.M{"$lte": *max}
	}
	res, err := t.s.scored.DeleteOne(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (t mongoTx) set(ctx context.Context, m, member, value string) (bool, error) {
	res, err := t.s.kv.UpdateOne(ctx,
		bson.M{"_id": mongoKey{Name: m, Member: member}},
		bson.M{"$set": bson.M{"value": []byte(value)}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, err
	}
	return res.UpsertedCount > 0, nil
}

func (t mongoTx) get(ctx context.Context, m, member string) (string, bool, error) {
	var doc mongoKVDoc
	err := t.s.kv.FindOne(ctx, bson.M{"_id": mongoKey{Name: m, Member: member}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(doc.Value), true, nil
}

func (t mongoTx) del(ctx context.Context, m, member string) (int64, error) {
	res, err := t.s.kv.DeleteOne(ctx, bson.M{"_id": mongoKey{Name: m, Member: member}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (t mongoTx) exists(ctx context.Context, m, member string) (bool, error) {
	n, err := t.s.kv.CountDocuments(ctx,
		bson.M{"_id": mongoKey{Name: m, Member: member}},
		options.Count().SetLimit(1),
	)
	return n > 0, err
}

func (t mongoTx) seqLen(ctx context.Context, seq string) (int64, error) {
	return t.s.seq.CountDocuments(ctx, bson.M{"name": seq})
}

func (t mongoTx) scoreCard(ctx context.Context, assoc string) (int64, error) {
	return t.s.scored.CountDocuments(ctx, bson.M{"_id.n": assoc})
}
