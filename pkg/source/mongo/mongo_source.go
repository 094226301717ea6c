// Package mongo implements the document-store source connector.
// Collections map to tables; dotted source paths address nested
// document fields.
package mongo

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/lakelift/lakelift/pkg/config"
	lkerrors "github.com/lakelift/lakelift/pkg/errors"
	"github.com/lakelift/lakelift/pkg/logger"
	"github.com/lakelift/lakelift/pkg/schema"
	"github.com/lakelift/lakelift/pkg/source"
)

func init() {
	source.Register("mongodb", func(cfg *config.DatasourceConfig) (source.Source, error) {
		return NewSource(cfg)
	})
}

// Source reads documents from a MongoDB database
type Source struct {
	name   string
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger
}

// NewSource connects to the configured MongoDB deployment
func NewSource(cfg *config.DatasourceConfig) (*Source, error) {
	if cfg.URI == "" {
		return nil, lkerrors.Newf(lkerrors.ErrorTypeConfig, "datasource %s: uri is required for mongodb", cfg.Name)
	}
	if cfg.Database == "" {
		return nil, lkerrors.Newf(lkerrors.ErrorTypeConfig, "datasource %s: database is required for mongodb", cfg.Name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "failed to connect to mongodb")
	}

	return &Source{
		name:   cfg.Name,
		client: client,
		db:     client.Database(cfg.Database),
		log:    logger.With(zap.String("source", cfg.Name), zap.String("type", "mongodb")),
	}, nil
}

// Name returns the configured datasource name
func (s *Source) Name() string { return s.name }

// Type returns the connector type
func (s *Source) Type() string { return "mongodb" }

// Query reads documents from the collection named by q.Table and
// projects them onto the requested fields.
func (s *Source) Query(ctx context.Context, q source.Query) ([]source.Row, error) {
	filter, err := buildFilter(q)
	if err != nil {
		return nil, err
	}

	if q.Distinct {
		return s.distinct(ctx, q, filter)
	}

	projection := bson.M{"_id": 0}
	for _, f := range q.Fields {
		projection[rootPath(f.SourceName())] = 1
	}

	cursor, err := s.db.Collection(q.Table).Find(ctx, filter, options.Find().SetProjection(projection))
	if err != nil {
		return nil, classify(err, "mongodb find failed")
	}
	defer cursor.Close(ctx)

	var out []source.Row
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeData, "failed to decode document")
		}

		row := make(source.Row, len(q.Fields))
		for _, f := range q.Fields {
			row[f.Name] = resolvePath(doc, f.SourceName())
		}
		out = append(out, row)
	}
	if err := cursor.Err(); err != nil {
		return nil, classify(err, "mongodb cursor failed")
	}

	return out, nil
}

// distinct groups the collection by the requested field paths and
// returns one row per distinct combination
func (s *Source) distinct(ctx context.Context, q source.Query, filter bson.M) ([]source.Row, error) {
	group := bson.M{}
	for _, f := range q.Fields {
		group[f.Name] = "$" + f.SourceName()
	}

	pipeline := []bson.M{
		{"$match": filter},
		{"$group": bson.M{"_id": group}},
	}

	cursor, err := s.db.Collection(q.Table).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, classify(err, "mongodb aggregation failed")
	}
	defer cursor.Close(ctx)

	var out []source.Row
	for cursor.Next(ctx) {
		var doc struct {
			ID bson.M `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeData, "failed to decode group")
		}

		row := make(source.Row, len(q.Fields))
		for _, f := range q.Fields {
			row[f.Name] = doc.ID[f.Name]
		}
		out = append(out, row)
	}
	return out, cursor.Err()
}

// DiscoverFields samples one document and reports its top-level fields.
// Nested structure is not expanded; dotted source paths address it.
func (s *Source) DiscoverFields(ctx context.Context, table string) ([]schema.Field, error) {
	var doc bson.M
	err := s.db.Collection(table).FindOne(ctx, bson.M{}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, lkerrors.Newf(lkerrors.ErrorTypeSchema, "collection %s is empty or missing", table)
		}
		return nil, classify(err, "failed to sample collection")
	}

	fields := make([]schema.Field, 0, len(doc))
	for name, value := range doc {
		fields = append(fields, schema.Field{Name: name, Type: semanticType(value)})
	}
	return fields, nil
}

// Tables lists the collections in the database
func (s *Source) Tables(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, classify(err, "failed to list collections")
	}
	return names, nil
}

// Ping verifies connectivity
func (s *Source) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "mongodb ping failed")
	}
	return nil
}

// Close disconnects the client
func (s *Source) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// buildFilter translates the query's filter into a find filter. A
// filter expression, when present, must be an extended-JSON document.
// Equality keys are resolved against the queried fields so the match
// runs on the source path with a value of the documents' own type.
func buildFilter(q source.Query) (bson.M, error) {
	byName := make(map[string]schema.Field, len(q.Fields))
	for _, fld := range q.Fields {
		byName[fld.Name] = fld
	}

	f := q.Filter
	filter := bson.M{}
	for _, kv := range f.Equals {
		path := kv.Key
		value := interface{}(kv.Value)
		if fld, ok := byName[kv.Key]; ok {
			path = fld.SourceName()
			value = nativeValue(fld.SemanticType(), kv.Value)
		}
		filter[path] = value
	}
	if f.Window != nil {
		filter[f.Window.Field] = bson.M{"$gte": primitive.NewDateTimeFromTime(f.Window.Since)}
	}
	if f.Expr != "" {
		var expr bson.M
		if err := bson.UnmarshalExtJSON([]byte(f.Expr), true, &expr); err != nil {
			return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeConfig, "invalid mongodb filter expression")
		}
		for k, v := range expr {
			filter[k] = v
		}
	}
	return filter, nil
}

// nativeValue coerces a rendered partition value back to a BSON-native
// type. Mongo equality is type sensitive; matching the rendered string
// "2024" against an int32 year field would select nothing. Numeric BSON
// types compare numerically, so int64 and float64 cover the integer and
// float widths documents actually hold.
func nativeValue(t schema.FieldType, value string) interface{} {
	switch t {
	case schema.TypeInteger:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	case schema.TypeFloat:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	case schema.TypeBoolean:
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	case schema.TypeDatetime:
		if ts, err := time.Parse(schema.DatetimeLayout, value); err == nil {
			return primitive.NewDateTimeFromTime(ts)
		}
	}
	return value
}

// rootPath returns the first segment of a dotted path, for projections
func rootPath(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

// resolvePath walks a dotted path through nested documents
func resolvePath(doc bson.M, path string) interface{} {
	segments := strings.Split(path, ".")
	var current interface{} = doc
	for _, seg := range segments {
		m, ok := current.(bson.M)
		if !ok {
			return nil
		}
		current, ok = m[seg]
		if !ok {
			return nil
		}
	}
	if dt, ok := current.(primitive.DateTime); ok {
		return dt.Time()
	}
	if oid, ok := current.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return current
}

// semanticType maps a sampled BSON value to the table model's field types
func semanticType(value interface{}) schema.FieldType {
	switch value.(type) {
	case int32, int64, int:
		return schema.TypeInteger
	case float32, float64, primitive.Decimal128:
		return schema.TypeFloat
	case primitive.DateTime, time.Time:
		return schema.TypeDatetime
	case bool:
		return schema.TypeBoolean
	default:
		return schema.TypeString
	}
}

// classify maps driver errors onto the run's error taxonomy
func classify(err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeTimeout, msg)
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, msg)
	}
	return lkerrors.Wrap(err, lkerrors.ErrorTypeQuery, msg)
}
