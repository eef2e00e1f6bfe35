package store

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

type DynamoConfig struct {
	Endpoint string
	Region   string
	Table    string
	// partition key value of the override item
	Key string
}

// Dynamo keeps the override in a single DynamoDB item {PK, BPM}.
type Dynamo struct {
	client dynamodbiface.DynamoDBAPI
	table  string
	key    string
}

func NewDynamo(cfg DynamoConfig) (*Dynamo, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create DynamoDB session: %w", err)
	}
	return NewDynamoWithClient(dynamodb.New(sess), cfg.Table, cfg.Key), nil
}

func NewDynamoWithClient(client dynamodbiface.DynamoDBAPI, table, key string) *Dynamo {
	if key == "" {
		key = overrideKey
	}
	return &Dynamo{client: client, table: table, key: key}
}

func (d *Dynamo) itemKey() map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"PK": {S: aws.String(d.key)},
	}
}

func (d *Dynamo) Get() (float64, bool, error) {
	out, err := d.client.GetItem(&dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.itemKey(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, false, fmt.Errorf("DynamoDB get override: %w", err)
	}
	attr, ok := out.Item["BPM"]
	if !ok || attr.N == nil {
		return 0, false, nil
	}
	bpm, err := strconv.ParseFloat(*attr.N, 64)
	if err != nil {
		return 0, false, fmt.Errorf("DynamoDB override not numeric: %w", err)
	}
	return bpm, true, nil
}

func (d *Dynamo) Set(bpm float64) error {
	if err := validate(bpm); err != nil {
		return err
	}
	item := d.itemKey()
	item["BPM"] = &dynamodb.AttributeValue{N: aws.String(strconv.FormatFloat(bpm, 'f', -1, 64))}
	_, err := d.client.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("DynamoDB put override: %w", err)
	}
	return nil
}

func (d *Dynamo) Clear() error {
	_, err := d.client.DeleteItem(&dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       d.itemKey(),
	})
	if err != nil {
		return fmt.Errorf("DynamoDB delete override: %w", err)
	}
	return nil
}
