package mainconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/clinic-booking-platform/internal/config"
)

func TestEndpointOverrideRoutesLocalServices(t *testing.T) {
	resolver := endpointOverride("http://localstack:4566", "ap-south-1")

	for _, service := range []string{sqs.ServiceID, s3.ServiceID} {
		endpoint, err := resolver.ResolveEndpoint(service, "ap-south-1")
		require.NoError(t, err, service)
		assert.Equal(t, "http://localstack:4566", endpoint.URL)
		assert.Equal(t, "ap-south-1", endpoint.SigningRegion)
	}

	_, err := resolver.ResolveEndpoint("DynamoDB", "ap-south-1")
	var notFound *aws.EndpointNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestLoadAWSConfigStaticCredentials(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:           "ap-south-1",
		AWSAccessKeyID:      "AKIATEST",
		AWSSecretAccessKey:  "secret",
		AWSEndpointOverride: "http://localstack:4566",
	}
	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "ap-south-1", awsCfg.Region)
	require.NotNil(t, awsCfg.EndpointResolverWithOptions)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIATEST", creds.AccessKeyID)
}
