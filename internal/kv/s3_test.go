package kv

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/arkilian/catalog/internal/errors"
)

// fakeS3 is an in-memory S3API with ListObjectsV2 pagination and If-None-Match support.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	failAll error
	lists   int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(bytes.Clone(data)))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	key := aws.ToString(in.Key)
	if aws.ToString(in.IfNoneMatch) == "*" {
		if _, exists := f.objects[key]; exists {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
		}
	}
	f.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	f.lists++

	prefix := aws.ToString(in.Prefix)
	var names []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	if token := aws.ToString(in.ContinuationToken); token != "" {
		i := sort.SearchStrings(names, token)
		for i < len(names) && names[i] <= token {
			i++
		}
		names = names[i:]
	}

	limit := 1000
	if in.MaxKeys != nil && *in.MaxKeys > 0 {
		limit = int(*in.MaxKeys)
	}
	truncated := len(names) > limit
	if truncated {
		names = names[:limit]
	}

	out := &s3.ListObjectsV2Output{
		IsTruncated: aws.Bool(truncated),
		KeyCount:    aws.Int32(int32(len(names))),
	}
	for _, n := range names {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(n)})
	}
	if truncated {
		out.NextContinuationToken = aws.String(names[len(names)-1])
	}
	return out, nil
}

func newTestS3Backend(f *fakeS3) *S3Backend {
	cfg := DefaultS3Config()
	cfg.Bucket = "catalog-test"
	cfg.PageSize = 2
	cfg.MaxRetries = 0
	return NewS3BackendWithClient(f, cfg)
}

func TestS3Backend_ObjectNamesAreHexUnderPrefix(t *testing.T) {
	f := newFakeS3()
	b := newTestS3Backend(f)
	require.NoError(t, b.Set(context.Background(), []byte("__c-x-n"), []byte("v")))

	_, ok := f.objects["catalog/5f5f632d782d6e"]
	assert.True(t, ok, "objects: %v", f.objects)
}

func TestS3Backend_RangePaginates(t *testing.T) {
	f := newFakeS3()
	b := newTestS3Backend(f)
	ctx := context.Background()
	for _, k := range []string{"a-1", "a-2", "a-3", "a-4", "a-5", "b-1"} {
		require.NoError(t, b.Set(ctx, []byte(k), []byte(k)))
	}

	kvs, err := Collect(ctx, b, []byte("a-"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a-1", "a-2", "a-3", "a-4", "a-5"}, keysOf(kvs))
	assert.Equal(t, 3, f.lists)
}

func TestS3Backend_ForeignObjectsIgnored(t *testing.T) {
	f := newFakeS3()
	f.objects["catalog/not-hex"] = []byte("x")
	b := newTestS3Backend(f)

	kvs, err := Collect(context.Background(), b, nil)
	require.NoError(t, err)
	assert.Empty(t, kvs)
}

func TestS3Backend_FailuresAreRetryableBackendErrors(t *testing.T) {
	f := newFakeS3()
	f.failAll = errors.New("connection reset")
	b := newTestS3Backend(f)
	ctx := context.Background()

	_, _, err := b.Get(ctx, []byte("k"))
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrBackendFailure)
	assert.True(t, cerrors.IsRetryable(err))

	_, err = Collect(ctx, b, []byte("k"))
	assert.ErrorIs(t, err, cerrors.ErrBackendFailure)

	_, err = b.PutIfAbsent(ctx, []byte("k"), []byte("v"))
	assert.ErrorIs(t, err, cerrors.ErrBackendFailure)
}

func TestCommonPrefix(t *testing.T) {
	assert.Equal(t, []byte("d-"), commonPrefix([]byte("d-2"), []byte("d-4")))
	assert.Empty(t, commonPrefix([]byte("a"), []byte("b")))
}
