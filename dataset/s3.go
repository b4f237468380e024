package dataset

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"
)

// S3Client is the subset of the S3 API used to list and read shards.
// *s3.S3 satisfies it.
type S3Client interface {
	ListObjectsV2WithContext(
		ctx aws.Context,
		input *s3.ListObjectsV2Input,
		opts ...request.Option,
	) (*s3.ListObjectsV2Output, error)
	GetObjectWithContext(
		ctx aws.Context,
		input *s3.GetObjectInput,
		opts ...request.Option,
	) (*s3.GetObjectOutput, error)
}

// NewS3Client creates a client from the shared AWS configuration and the
// usual environment variables.
func NewS3Client() (S3Client, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating AWS session")
	}
	return s3.New(sess), nil
}

// listS3Shards pages through every object under prefix, keeping the
// supported shard types.
func listS3Shards(
	ctx context.Context,
	client S3Client,
	bucket string,
	prefix string,
	opts Options,
) ([]Shard, error) {
	var shards []Shard
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	for {
		output, err := client.ListObjectsV2WithContext(ctx, input)
		if err != nil {
			return nil, errors.Wrapf(err, "listing s3://%s/%s", bucket, prefix)
		}
		for _, object := range output.Contents {
			key := aws.StringValue(object.Key)
			format, ok := FormatOf(key)
			if !ok {
				continue
			}
			shards = append(shards, &s3Shard{
				client:  client,
				bucket:  bucket,
				key:     key,
				size:    aws.Int64Value(object.Size),
				modTime: aws.TimeValue(object.LastModified),
				format:  format,
				opts:    opts,
			})
		}
		if !aws.BoolValue(output.IsTruncated) ||
			output.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = output.NextContinuationToken
	}
	return shards, nil
}

type s3Shard struct {
	client  S3Client
	bucket  string
	key     string
	size    int64
	modTime time.Time
	format  Format
	opts    Options
}

func (s *s3Shard) Name() string       { return "s3://" + s.bucket + "/" + s.key }
func (s *s3Shard) Size() int64        { return s.size }
func (s *s3Shard) ModTime() time.Time { return s.modTime }

// Open streams the object body; records are read as the body arrives.
func (s *s3Shard) Open(ctx context.Context) (RecordReader, error) {
	output, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", s.Name())
	}
	return NewRecordReader(s.Name(), output.Body, output.Body, s.format,
		s.opts), nil
}
