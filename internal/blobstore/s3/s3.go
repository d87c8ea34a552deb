package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
	"github.com/vbonduro/purrfect/internal/blobstore"
	"github.com/vbonduro/purrfect/internal/domain"
)

// maxDeleteBatch is the most keys S3 accepts in one DeleteObjects call.
const maxDeleteBatch = 1000

const (
	metaGalleryID = "gallery-id"
	metaType      = "media-type"
	metaFileName  = "file-name"
	metaCreatedAt = "created-at"
	metaSeq       = "seq"
)

var _ blobstore.BlobStore = (*Store)(nil)

// Config options for the S3 backend
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional custom endpoint for S3-compatible services
	Prefix          string // Key prefix for every media object
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
}

// API is the subset of the S3 client the store uses.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Store keeps each media record as one S3 object. Descriptive fields travel as
// object metadata.
//
// DeleteMany is not atomic: S3 has no multi-object transaction, so a batch that
// fails part way may leave some objects deleted. The failure is still reported
// as ErrDelete.
type Store struct {
	cfg    Config
	client *blobstore.Lazy[API]

	mu      sync.Mutex
	lastSeq int64
}

// New builds a store whose client is created from the default AWS credential
// chain on first use.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &Store{cfg: cfg, client: blobstore.NewLazy(func(ctx context.Context) (API, error) {
		return newClient(ctx, cfg)
	})}, nil
}

// NewWithClient builds a store over an existing client.
func NewWithClient(cfg Config, client API) *Store {
	return &Store{cfg: cfg, client: blobstore.NewLazy(func(context.Context) (API, error) {
		return client, nil
	})}
}

func newClient(ctx context.Context, cfg Config) (API, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}
	return s3.NewFromConfig(awsCfg, s3Options...), nil
}

func (s *Store) key(id string) string {
	return s.cfg.Prefix + id
}

func (s *Store) GetAll(ctx context.Context) ([]*blobstore.Record, error) {
	client, err := s.client.Get(ctx)
	if err != nil {
		return nil, err
	}

	type seqRecord struct {
		seq int64
		rec *blobstore.Record
	}
	var out []seqRecord

	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.cfg.Prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, blobstore.ReadError("get all", fmt.Errorf("failed to list objects: %w", err))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rec, seq, err := s.fetch(ctx, client, key)
			if err != nil {
				return nil, blobstore.ReadError("get all", err)
			}
			out = append(out, seqRecord{seq: seq, rec: rec})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	records := make([]*blobstore.Record, 0, len(out))
	for _, r := range out {
		records = append(records, r.rec)
	}
	return records, nil
}

func (s *Store) fetch(ctx context.Context, client API, key string) (*blobstore.Record, int64, error) {
	obj, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer obj.Body.Close()

	payload, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read object %s: %w", key, err)
	}

	md := obj.Metadata
	createdAt, _ := time.Parse(time.RFC3339Nano, md[metaCreatedAt])
	seq, _ := strconv.ParseInt(md[metaSeq], 10, 64)

	return &blobstore.Record{
		ID:        strings.TrimPrefix(key, s.cfg.Prefix),
		GalleryID: md[metaGalleryID],
		Type:      domain.MediaType(md[metaType]),
		Payload:   payload,
		FileName:  decodeMeta(md[metaFileName]),
		CreatedAt: createdAt,
	}, seq, nil
}

func (s *Store) Put(ctx context.Context, rec *blobstore.Record) error {
	client, err := s.client.Get(ctx)
	if err != nil {
		return err
	}

	seq, err := s.seqFor(ctx, client, rec.ID)
	if err != nil {
		return blobstore.WriteError("put", rec.ID, err)
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(s.key(rec.ID)),
		Body:        bytes.NewReader(rec.Payload),
		ContentType: aws.String(mimetype.Detect(rec.Payload).String()),
		Metadata: map[string]string{
			metaGalleryID: rec.GalleryID,
			metaType:      string(rec.Type),
			metaFileName:  encodeMeta(rec.FileName),
			metaCreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			metaSeq:       strconv.FormatInt(seq, 10),
		},
	})
	if err != nil {
		return blobstore.WriteError("put", rec.ID, fmt.Errorf("failed to upload object: %w", err))
	}
	return nil
}

// encodeMeta escapes a user metadata value. S3 only carries US-ASCII in
// x-amz-meta-* headers.
func encodeMeta(v string) string {
	return url.PathEscape(v)
}

func decodeMeta(v string) string {
	if d, err := url.PathUnescape(v); err == nil {
		return d
	}
	return v
}

// seqFor keeps the ordering stamp of an existing object so a replace does not
// move it to the end.
func (s *Store) seqFor(ctx context.Context, client API, id string) (int64, error) {
	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(id)),
	})
	if err == nil {
		if seq, perr := strconv.ParseInt(head.Metadata[metaSeq], 10, 64); perr == nil {
			return seq, nil
		}
	} else {
		var notFound *types.NotFound
		if !errors.As(err, &notFound) {
			return 0, fmt.Errorf("failed to check object: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seq := time.Now().UnixNano()
	if seq <= s.lastSeq {
		seq = s.lastSeq + 1
	}
	s.lastSeq = seq
	return seq, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	client, err := s.client.Get(ctx)
	if err != nil {
		return err
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return blobstore.DeleteError("delete", id, fmt.Errorf("failed to delete object: %w", err))
	}
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	client, err := s.client.Get(ctx)
	if err != nil {
		return err
	}

	for start := 0; start < len(ids); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(ids))

		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, id := range ids[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(s.key(id))})
		}

		out, err := client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.cfg.Bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return blobstore.DeleteError("delete many", "", fmt.Errorf("failed to delete objects: %w", err))
		}
		if len(out.Errors) > 0 {
			failed := make([]string, 0, len(out.Errors))
			for _, e := range out.Errors {
				failed = append(failed, fmt.Sprintf("%s (%s)", aws.ToString(e.Key), aws.ToString(e.Code)))
			}
			return blobstore.DeleteError("delete many", "", fmt.Errorf("failed to delete %d objects: %s", len(failed), strings.Join(failed, ", ")))
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close(nil)
}
