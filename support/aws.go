package support

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

func AWSConfig(ctx context.Context) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx)
}

// DynamoClient builds a DynamoDB client, optionally pointed at a local
// endpoint.
func DynamoClient(ctx context.Context, endpoint string) (*dynamodb.Client, error) {
	cfg, err := AWSConfig(ctx)
	if err != nil {
		return nil, err
	}

	var options []func(*dynamodb.Options)
	if endpoint != "" {
		options = append(options, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	return dynamodb.NewFromConfig(cfg, options...), nil
}
