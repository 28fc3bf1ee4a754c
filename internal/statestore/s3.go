package statestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 is a Backend storing one object per run under
// <prefix>/<workflow_name>/run_<run_number>.json, adapted from the
// pkg/state/s3.go (same bucket/prefix/client shape; object
// layout changed from one-shared-state-key to one-object-per-run to
// match the local backend's semantics).
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 builds an S3-backed Backend from cfg keys "bucket", "prefix",
// "region", "access_key", "secret_key", "endpoint", the same
// backendConfig keys NewStateBackend accepts for "s3".
func NewS3(cfg map[string]string) (*S3, error) {
	bucket := cfg["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("s3 state backend requires a bucket")
	}

	ctx := context.Background()
	var opts []func(*awsconfig.LoadOptions) error
	if region := cfg["region"]; region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if ak, sk := cfg["access_key"], cfg["secret_key"]; ak != "" && sk != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, cfg["session_token"]),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := cfg["endpoint"]; endpoint != "" {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		}
	})

	return &S3{client: client, bucket: bucket, prefix: strings.Trim(cfg["prefix"], "/")}, nil
}

func (s *S3) key(workflowName string, runNumber int) string {
	parts := []string{sanitizeName(workflowName), fmt.Sprintf("run_%d.json", runNumber)}
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func (s *S3) workflowPrefix(workflowName string) string {
	parts := []string{sanitizeName(workflowName) + "/"}
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

// Load fetches and parses the state object for the given run.
func (s *S3) Load(workflowName string, runNumber int) (*State, error) {
	ctx := context.Background()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    strPtr(s.key(workflowName, runNumber)),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading state object: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing state object: %w", err)
	}
	return &state, nil
}

// Save uploads state as a single PutObject call. S3's per-object
// atomicity (a GET never observes a partial PUT) gives the same
// crash-safety guarantee the local backend gets from temp+rename.
func (s *S3) Save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	ctx := context.Background()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         strPtr(s.key(state.WorkflowName, state.RunNumber)),
		Body:        bytes.NewReader(data),
		ContentType: strPtr("application/json"),
	})
	return err
}

// ListRuns enumerates run numbers by listing objects under the
// workflow's prefix.
func (s *S3) ListRuns(workflowName string) ([]int, error) {
	ctx := context.Background()
	prefix := s.workflowPrefix(workflowName)

	var runs []int
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			runs = append(runs, runNumberFromKey(*obj.Key))
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Ints(runs)
	return runs, nil
}

// LatestRunNumber returns the highest run number stored for workflowName.
func (s *S3) LatestRunNumber(workflowName string) (int, error) {
	runs, err := s.ListRuns(workflowName)
	if err != nil {
		return 0, err
	}
	if len(runs) == 0 {
		return 0, nil
	}
	return runs[len(runs)-1], nil
}

func runNumberFromKey(key string) int {
	base := key
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(strings.TrimPrefix(base, "run_"), ".json")
	n, _ := strconv.Atoi(base)
	return n
}

func strPtr(s string) *string { return &s }
