package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DDBClient is the subset of the DynamoDB API the store uses.
// *dynamodb.Client satisfies it; tests substitute fakes.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DDBStore implements Store on DynamoDB, giving a multi-worker training job
// one consistent parameter set per tensor. Conditional writes provide the
// compare-and-swap that makes registration first-writer-wins.
//
// Table schema:
//   - Partition key: job (string)
//   - Sort key: tensor_key (string)
//
// Create with:
//
//	aws dynamodb create-table \
//	  --table-name gradsync-manifest \
//	  --attribute-definitions AttributeName=job,AttributeType=S AttributeName=tensor_key,AttributeType=S \
//	  --key-schema AttributeName=job,KeyType=HASH AttributeName=tensor_key,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBStore struct {
	client    DDBClient
	tableName string
	job       string
}

var _ Store = (*DDBStore)(nil)

// NewDDBStore creates a DynamoDB-backed manifest store scoped to one training
// job identifier.
func NewDDBStore(client DDBClient, tableName, job string) *DDBStore {
	return &DDBStore{
		client:    client,
		tableName: tableName,
		job:       job,
	}
}

func (s *DDBStore) Put(ctx context.Context, p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("manifest: marshal %q: %w", p.Key, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"job":        &types.AttributeValueMemberS{Value: s.job},
			"tensor_key": &types.AttributeValueMemberS{Value: p.Key},
			"params":     &types.AttributeValueMemberS{Value: string(body)},
		},
		ConditionExpression: aws.String("attribute_not_exists(tensor_key)"),
	})
	if err == nil {
		return nil
	}

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return fmt.Errorf("manifest: put %q: %w", p.Key, err)
	}

	// Somebody committed first. Identical records are fine, the caller just
	// adopts what is there; anything else is a real conflict.
	existing, err := s.Get(ctx, p.Key)
	if err != nil {
		return fmt.Errorf("manifest: put %q: %w", p.Key, err)
	}
	if existing == p {
		return nil
	}
	return fmt.Errorf("key %q: %w", p.Key, ErrConcurrentModification)
}

func (s *DDBStore) Get(ctx context.Context, key string) (Params, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"job":        &types.AttributeValueMemberS{Value: s.job},
			"tensor_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Params{}, fmt.Errorf("manifest: get %q: %w", key, err)
	}
	if out.Item == nil {
		return Params{}, fmt.Errorf("key %q: %w", key, ErrNotFound)
	}
	return decodeItem(out.Item)
}

func (s *DDBStore) List(ctx context.Context) ([]Params, error) {
	var records []Params
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("job = :job"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":job": &types.AttributeValueMemberS{Value: s.job},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("manifest: list: %w", err)
		}
		for _, item := range out.Items {
			p, err := decodeItem(item)
			if err != nil {
				return nil, err
			}
			records = append(records, p)
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return records, nil
}

func decodeItem(item map[string]types.AttributeValue) (Params, error) {
	attr, ok := item["params"].(*types.AttributeValueMemberS)
	if !ok {
		return Params{}, errors.New("manifest: item has no params attribute")
	}
	var p Params
	if err := json.Unmarshal([]byte(attr.Value), &p); err != nil {
		return Params{}, fmt.Errorf("manifest: decode record: %w", err)
	}
	return p, nil
}
