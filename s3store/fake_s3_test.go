package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type fakeMultipart struct {
	key       string
	parts     map[int32][]byte
	initiated time.Time
}

// fakeS3 is an in-memory bucket. Errors use the codes S3 reports.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	uploads  map[string]*fakeMultipart
	nextID   int
	pageSize int
	calls    map[string]int
	failures map[string][]error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:  map[string][]byte{},
		uploads:  map[string]*fakeMultipart{},
		pageSize: 1000,
		calls:    map[string]int{},
		failures: map[string][]error{},
	}
}

// failNext makes the next calls of op fail with errs, one per call.
func (f *fakeS3) failNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

func (f *fakeS3) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// call must be called with f.mu held.
func (f *fakeS3) call(op string) error {
	f.calls[op]++
	if errs := f.failures[op]; len(errs) > 0 {
		f.failures[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code, Fault: smithy.FaultClient}
}

func (f *fakeS3) upload(uploadID *string, key *string) (*fakeMultipart, error) {
	u, ok := f.uploads[aws.ToString(uploadID)]
	if !ok || u.key != aws.ToString(key) {
		return nil, apiError("NoSuchUpload")
	}
	return u, nil
}

func (f *fakeS3) CreateMultipartUpload(_ context.Context, params *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateMultipartUpload"); err != nil {
		return nil, err
	}

	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = &fakeMultipart{key: aws.ToString(params.Key), parts: map[int32][]byte{}, initiated: time.Now()}
	return &s3.CreateMultipartUploadOutput{Key: params.Key, UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(_ context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("UploadPart"); err != nil {
		return nil, err
	}
	u, err := f.upload(params.UploadId, params.Key)
	if err != nil {
		return nil, err
	}
	u.parts[aws.ToInt32(params.PartNumber)] = data
	return &s3.UploadPartOutput{ETag: aws.String(etag(data))}, nil
}

func etag(data []byte) string {
	return fmt.Sprintf("\"%d-%x\"", len(data), data[:min(len(data), 4)])
}

func (f *fakeS3) ListParts(_ context.Context, params *s3.ListPartsInput, _ ...func(*s3.Options)) (*s3.ListPartsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ListParts"); err != nil {
		return nil, err
	}
	u, err := f.upload(params.UploadId, params.Key)
	if err != nil {
		return nil, err
	}

	numbers := make([]int, 0, len(u.parts))
	for n := range u.parts {
		numbers = append(numbers, int(n))
	}
	sort.Ints(numbers)

	marker := 0
	if params.PartNumberMarker != nil {
		if _, err := fmt.Sscanf(*params.PartNumberMarker, "%d", &marker); err != nil {
			return nil, err
		}
	}

	out := &s3.ListPartsOutput{IsTruncated: aws.Bool(false)}
	for _, n := range numbers {
		if n <= marker {
			continue
		}
		if len(out.Parts) == f.pageSize {
			out.IsTruncated = aws.Bool(true)
			out.NextPartNumberMarker = aws.String(fmt.Sprint(aws.ToInt32(out.Parts[len(out.Parts)-1].PartNumber)))
			break
		}
		data := u.parts[int32(n)]
		out.Parts = append(out.Parts, types.Part{
			PartNumber: aws.Int32(int32(n)),
			ETag:       aws.String(etag(data)),
			Size:       aws.Int64(int64(len(data))),
		})
	}
	return out, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, params *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CompleteMultipartUpload"); err != nil {
		return nil, err
	}
	u, err := f.upload(params.UploadId, params.Key)
	if err != nil {
		return nil, err
	}
	if params.MultipartUpload == nil || len(params.MultipartUpload.Parts) == 0 {
		return nil, apiError("MalformedXML")
	}

	var content bytes.Buffer
	for _, part := range params.MultipartUpload.Parts {
		data, ok := u.parts[aws.ToInt32(part.PartNumber)]
		if !ok || etag(data) != aws.ToString(part.ETag) {
			return nil, apiError("InvalidPart")
		}
		content.Write(data)
	}

	f.objects[u.key] = content.Bytes()
	delete(f.uploads, aws.ToString(params.UploadId))
	return &s3.CompleteMultipartUploadOutput{Key: params.Key}, nil
}

func (f *fakeS3) ListMultipartUploads(_ context.Context, params *s3.ListMultipartUploadsInput, _ ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ListMultipartUploads"); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(f.uploads))
	for id := range f.uploads {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := &s3.ListMultipartUploadsOutput{IsTruncated: aws.Bool(false)}
	for _, id := range ids {
		u := f.uploads[id]
		if !strings.HasPrefix(u.key, aws.ToString(params.Prefix)) {
			continue
		}
		if params.UploadIdMarker != nil && id <= *params.UploadIdMarker {
			continue
		}
		if len(out.Uploads) == f.pageSize {
			last := out.Uploads[len(out.Uploads)-1]
			out.IsTruncated = aws.Bool(true)
			out.NextKeyMarker = last.Key
			out.NextUploadIdMarker = last.UploadId
			break
		}
		initiated := u.initiated
		out.Uploads = append(out.Uploads, types.MultipartUpload{
			Key:       aws.String(u.key),
			UploadId:  aws.String(id),
			Initiated: &initiated,
		})
	}
	return out, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ListObjectsV2"); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(params.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	now := time.Now()
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(f.objects[key]))),
			LastModified: &now,
		})
	}
	return out, nil
}

func (f *fakeS3) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("HeadObject"); err != nil {
		return nil, err
	}
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetObject"); err != nil {
		return nil, err
	}
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}

	total := int64(len(data))
	start, end := int64(0), total-1
	if params.Range != nil {
		if _, err := fmt.Sscanf(*params.Range, "bytes=%d-%d", &start, &end); err != nil {
			return nil, err
		}
		if end >= total {
			end = total - 1
		}
	}
	var body []byte
	if start <= end {
		body = data[start : end+1]
	}

	out := &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if params.Range != nil {
		out.ContentRange = aws.String(fmt.Sprintf("bytes %d-%d/%d", start, end, total))
	}
	return out, nil
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("PutObject"); err != nil {
		return nil, err
	}
	f.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("DeleteObject"); err != nil {
		return nil, err
	}
	delete(f.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignGetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{
		URL:    fmt.Sprintf("https://%s.s3.amazonaws.com/%s?X-Amz-Signature=fake", aws.ToString(params.Bucket), aws.ToString(params.Key)),
		Method: "GET",
	}, nil
}
