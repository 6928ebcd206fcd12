package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"ardrive-sync/internal/engine"
)

// S3Gateway stores transactions in an S3 bucket:
//
//	<prefix>/data/<txID>
//	<prefix>/metadata/<txID>.json
//
// Objects are keyed by transaction ID, so a retried upload overwrites an
// object with identical bytes and the gateway stays append-only in effect.
type S3Gateway struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	prefix     string
}

// S3Options configures an S3Gateway.
type S3Options struct {
	Bucket string
	Prefix string
	Region string

	// Static credentials; when empty the SDK default chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Gateway creates a gateway backed by the given bucket.
func NewS3Gateway(ctx context.Context, opts S3Options) (*S3Gateway, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 gateway requires a bucket")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3Gateway{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     opts.Bucket,
		prefix:     opts.Prefix,
	}, nil
}

func (g *S3Gateway) UploadFile(ctx context.Context, localPath, parentRemoteFolderID string) (string, string, error) {
	dataTxID, size, err := hashLocalFile(localPath)
	if err != nil {
		return "", "", err
	}

	exists, err := g.objectExists(ctx, g.dataKey(dataTxID))
	if err != nil {
		return "", "", err
	}
	if !exists {
		f, err := os.Open(localPath)
		if err != nil {
			return "", "", fmt.Errorf("opening %s: %w", localPath, err)
		}
		_, err = g.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(g.bucket),
			Key:    aws.String(g.dataKey(dataTxID)),
			Body:   f,
		})
		f.Close()
		if err != nil {
			return "", "", fmt.Errorf("uploading data transaction: %w", err)
		}
	}

	meta := EntryMetadata{
		Name:           filepath.Base(localPath),
		EntryType:      "file",
		ParentFolderID: parentRemoteFolderID,
		DataTxID:       dataTxID,
		Size:           size,
		CreatedAt:      time.Now(),
	}
	metaTxID, err := g.putMetadata(ctx, meta)
	if err != nil {
		return "", "", err
	}

	return dataTxID, metaTxID, nil
}

func (g *S3Gateway) CreateFolder(ctx context.Context, name, parentRemoteFolderID string) (string, error) {
	return g.putMetadata(ctx, EntryMetadata{
		Name:           name,
		EntryType:      "folder",
		ParentFolderID: parentRemoteFolderID,
		CreatedAt:      time.Now(),
	})
}

func (g *S3Gateway) DownloadFile(ctx context.Context, remoteDataTxID, destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}
	defer f.Close()

	_, err = g.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(g.dataKey(remoteDataTxID)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return fmt.Errorf("transaction not found: %s", remoteDataTxID)
		}
		return fmt.Errorf("downloading data transaction: %w", err)
	}
	return nil
}

func (g *S3Gateway) putMetadata(ctx context.Context, meta EntryMetadata) (string, error) {
	metaTxID := metadataTxID(meta)
	key := g.metadataKey(metaTxID)

	exists, err := g.objectExists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		return metaTxID, nil
	}

	encoded, err := encodeMetadata(meta)
	if err != nil {
		return "", err
	}
	_, err = g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(encoded),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading metadata transaction: %w", err)
	}
	return metaTxID, nil
}

func (g *S3Gateway) objectExists(ctx context.Context, key string) (bool, error) {
	_, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking object %s: %w", key, err)
	}
	return true, nil
}

func (g *S3Gateway) dataKey(txID string) string {
	return path.Join(g.prefix, "data", txID)
}

func (g *S3Gateway) metadataKey(txID string) string {
	return path.Join(g.prefix, "metadata", txID+".json")
}

// Compile-time check that S3Gateway implements engine.RemoteStorage.
var _ engine.RemoteStorage = (*S3Gateway)(nil)
