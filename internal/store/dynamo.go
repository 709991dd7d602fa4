package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/sunzc-sunny/RDAnnotator/internal/faillog"
	"github.com/sunzc-sunny/RDAnnotator/internal/pipeline"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix = "RUN#"
	skMeta   = "META"
	skItem   = "ITEM#"
	skFail   = "FAIL#"
)

// DynamoAPI is the subset of *dynamodb.Client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ DynamoAPI = (*dynamodb.Client)(nil)

// DynamoStore implements RunStore using AWS DynamoDB.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	logger    zerolog.Logger
	now       func() time.Time
}

// Compile-time interface check.
var _ RunStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client DynamoAPI, tableName string, logger zerolog.Logger) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
		now:       time.Now,
	}
}

// --- Internal helpers ---

// runPK returns the partition key for a run.
func runPK(runID string) string {
	return pkPrefix + runID
}

// expiresAt returns the Unix epoch timestamp for record expiration.
func (s *DynamoStore) expiresAt() int64 {
	return s.now().Add(RecordTTL).Unix()
}

// putItem marshals a record and writes it with PK, SK and TTL.
// Records use dynamodbav:"-" for fields derived from PK/SK.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data any) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.expiresAt(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single record into out. Returns false if the record does
// not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out any) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// queryBySKPrefix returns every record of a run whose SK begins with
// skPrefix, following pagination.
func (s *DynamoStore) queryBySKPrefix(ctx context.Context, runID, skPrefix string) ([]map[string]types.AttributeValue, error) {
	pk := runPK(runID)

	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: skPrefix},
		},
	}

	var allItems []map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%s: %w", pk, skPrefix, err)
		}
		allItems = append(allItems, result.Items...)

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return allItems, nil
}

// --- Run operations ---

func (s *DynamoStore) StartRun(ctx context.Context, run *Run) error {
	if run.RunID == "" {
		return errors.New("run id is required")
	}
	if run.StartedAt == 0 {
		run.StartedAt = s.now().Unix()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if err := s.putItem(ctx, runPK(run.RunID), skMeta, run); err != nil {
		return fmt.Errorf("put run %s: %w", run.RunID, err)
	}
	s.logger.Debug().Str("runId", run.RunID).Str("mode", run.Mode).Msg("Run record created")
	return nil
}

func (s *DynamoStore) FinishRun(ctx context.Context, runID string, sum RunSummary, status string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: runPK(runID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression: aws.String("SET #s = :s, finishedAt = :f, completed = :c, failed = :x, colorable = :cl, notColorable = :nc, ambiguous = :a"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status", // "status" is a DynamoDB reserved word
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":  &types.AttributeValueMemberS{Value: status},
			":f":  number(s.now().Unix()),
			":c":  number(int64(sum.Completed)),
			":x":  number(int64(sum.Failed)),
			":cl": number(int64(sum.Colorable)),
			":nc": number(int64(sum.NotColorable)),
			":a":  number(int64(sum.Ambiguous)),
		},
	})
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	s.logger.Debug().Str("runId", runID).Str("status", status).Msg("Run record finished")
	return nil
}

func (s *DynamoStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run
	found, err := s.getItem(ctx, runPK(runID), skMeta, &run)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	if !found {
		return nil, nil
	}
	run.RunID = runID
	return &run, nil
}

// --- Item operations ---

// RecordItem stores the final state of one item. It implements
// pipeline.ItemSink.
func (s *DynamoStore) RecordItem(ctx context.Context, runID string, r pipeline.ItemResult) error {
	rec := NewItemRecord(r, s.now())
	if err := s.putItem(ctx, runPK(runID), skItem+r.Key, rec); err != nil {
		return fmt.Errorf("put item %s/%s: %w", runID, r.Key, err)
	}
	return nil
}

// ListItems returns every item record of a run sorted by key.
func (s *DynamoStore) ListItems(ctx context.Context, runID string) ([]ItemRecord, error) {
	raw, err := s.queryBySKPrefix(ctx, runID, skItem)
	if err != nil {
		return nil, err
	}
	out := make([]ItemRecord, 0, len(raw))
	for _, item := range raw {
		var rec ItemRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal item record: %w", err)
		}
		if sk, ok := item["SK"].(*types.AttributeValueMemberS); ok {
			rec.Key = strings.TrimPrefix(sk.Value, skItem)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// --- Failure operations ---

// Record stores one failed attempt. It implements faillog.Sink.
func (s *DynamoStore) Record(ctx context.Context, f faillog.Failure) error {
	if f.RunID == "" {
		return errors.New("failure record has no run id")
	}
	rec := FailureRecord{
		Item:    f.Item,
		Stage:   f.Stage,
		Attempt: f.Attempt,
		Final:   f.Final,
		Kind:    f.Kind,
		Message: f.Message,
		Time:    f.Time.Unix(),
	}
	sk := fmt.Sprintf("%s%s#%s#%d", skFail, f.Item, f.Stage, f.Attempt)
	if err := s.putItem(ctx, runPK(f.RunID), sk, rec); err != nil {
		return fmt.Errorf("put failure %s/%s: %w", f.RunID, f.Item, err)
	}
	return nil
}

// ListFailures returns every failure record of a run.
func (s *DynamoStore) ListFailures(ctx context.Context, runID string) ([]FailureRecord, error) {
	raw, err := s.queryBySKPrefix(ctx, runID, skFail)
	if err != nil {
		return nil, err
	}
	var out []FailureRecord
	if err := attributevalue.UnmarshalListOfMaps(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal failure records: %w", err)
	}
	return out, nil
}

func number(v int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}
