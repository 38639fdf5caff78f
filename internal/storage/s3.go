// Package storage archives batch run reports as JSON objects in S3.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/peerscope/backend/internal/config"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const reportPrefix = "reports"

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithBaseEndpoint(cfg.Endpoint),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

// ReportArchive stores one JSON object per published run under
// reports/<kind>/<version>.json.
type ReportArchive struct {
	client s3API
	bucket string
}

func NewReportArchive(client *s3.Client, bucket string) *ReportArchive {
	return &ReportArchive{client: client, bucket: bucket}
}

func reportKey(kind, version string) string {
	return path.Join(reportPrefix, kind, version+".json")
}

func (a *ReportArchive) Archive(ctx context.Context, kind, version string, report any) error {
	if kind == "" || version == "" {
		return fmt.Errorf("report kind and version are required")
	}
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	key := reportKey(kind, version)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return common.StoreError("put report", err)
	}
	logger.Debug("[Storage][Archive] Stored report", "key", key, "bytes", len(body))
	return nil
}

// Get returns the raw JSON of one archived report.
func (a *ReportArchive) Get(ctx context.Context, kind, version string) ([]byte, error) {
	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(reportKey(kind, version)),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: report %s/%s", common.ErrEntityNotFound, kind, version)
		}
		return nil, common.StoreError("get report", err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	return buf.Bytes(), nil
}

// List returns the archived versions of kind, newest key last.
func (a *ReportArchive) List(ctx context.Context, kind string) ([]string, error) {
	prefix := path.Join(reportPrefix, kind) + "/"
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	}

	var versions []string
	for {
		listOutput, err := a.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, common.StoreError("list reports", err)
		}

		for _, obj := range listOutput.Contents {
			if obj.Key == nil {
				continue
			}
			name := strings.TrimPrefix(*obj.Key, prefix)
			versions = append(versions, strings.TrimSuffix(name, ".json"))
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}
	sort.Strings(versions)
	return versions, nil
}
