package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gopkg.in/yaml.v3"
)

// maxArtifactSize bounds what is read from a single artifact.
const maxArtifactSize = 256 << 20

// GetObjectAPI is the subset of the S3 client used to fetch artifacts.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// fetcher reads artifacts from local paths or s3://bucket/key URIs. The S3
// client is created on first use.
type fetcher struct {
	region string

	once   sync.Once
	client GetObjectAPI
	err    error
}

func newFetcher(region string) *fetcher {
	return &fetcher{region: region}
}

func newFetcherWithClient(client GetObjectAPI) *fetcher {
	f := &fetcher{client: client}
	f.once.Do(func() {})
	return f
}

func (f *fetcher) s3Client(ctx context.Context) (GetObjectAPI, error) {
	f.once.Do(func() {
		var opts []func(*awsconfig.LoadOptions) error
		if f.region != "" {
			opts = append(opts, awsconfig.WithRegion(f.region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			f.err = fmt.Errorf("failed to load AWS config: %w", err)
			return
		}
		f.client = s3.NewFromConfig(cfg)
	})
	return f.client, f.err
}

func (f *fetcher) read(ctx context.Context, uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, "s3://") {
		return os.ReadFile(uri)
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid s3 uri: %w", err)
	}
	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 uri %q needs a bucket and a key", uri)
	}

	client, err := f.s3Client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxArtifactSize+1))
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	if len(data) > maxArtifactSize {
		return nil, fmt.Errorf("s3://%s/%s exceeds %d bytes", bucket, key, maxArtifactSize)
	}
	return data, nil
}

// decode unmarshals the artifact at uri into v. Files ending in .yaml or
// .yml are YAML, everything else is JSON.
func (f *fetcher) decode(ctx context.Context, uri string, v any) error {
	data, err := f.read(ctx, uri)
	if err != nil {
		return err
	}

	name := uri
	if u, err := url.Parse(uri); err == nil && u.Scheme == "s3" {
		name = u.Path
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
	}
	return nil
}
