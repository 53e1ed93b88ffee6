// Package sink opens the places a finished image can be written to.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/golang/glog"
	"google.golang.org/api/option"
)

const PPMContentType = "image/x-portable-pixmap"

type Scheme int

const (
	SchemeStdout Scheme = iota
	SchemeFile
	SchemeGCS
	SchemeS3
)

func (s Scheme) String() string {
	switch s {
	case SchemeStdout:
		return "stdout"
	case SchemeFile:
		return "file"
	case SchemeGCS:
		return "gs"
	case SchemeS3:
		return "s3"
	}
	return fmt.Sprintf("Scheme(%d)", int(s))
}

type Destination struct {
	Scheme Scheme

	// Bucket and Key are set for cloud destinations.
	Bucket string
	Key    string

	// Path is set for local files.
	Path string
}

// ParseDestination interprets dest.  "" and "-" mean stdout, gs:// and s3://
// URLs name a bucket and object, and anything else is a local path.
func ParseDestination(dest string) (Destination, error) {
	if dest == "" || dest == "-" {
		return Destination{Scheme: SchemeStdout}, nil
	}

	for prefix, scheme := range map[string]Scheme{"gs://": SchemeGCS, "s3://": SchemeS3} {
		if !strings.HasPrefix(dest, prefix) {
			continue
		}

		rest := strings.TrimPrefix(dest, prefix)
		slash := strings.IndexByte(rest, '/')
		if slash <= 0 || slash == len(rest)-1 {
			return Destination{}, fmt.Errorf("destination %q should look like %sbucket/object", dest, prefix)
		}

		return Destination{
			Scheme: scheme,
			Bucket: rest[:slash],
			Key:    rest[slash+1:],
		}, nil
	}

	return Destination{Scheme: SchemeFile, Path: dest}, nil
}

type Options struct {
	ContentType string

	GCSCredentialsFile string

	S3Region   string
	S3Endpoint string
}

// Open returns a writer for dest.  Close on the result finishes the upload,
// and reports any error doing so.
func Open(ctx context.Context, dest string, opts *Options) (io.WriteCloser, error) {
	d, err := ParseDestination(dest)
	if err != nil {
		return nil, err
	}

	if opts == nil {
		opts = &Options{}
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = PPMContentType
	}

	switch d.Scheme {
	case SchemeStdout:
		return nopCloser{os.Stdout}, nil
	case SchemeFile:
		f, err := os.Create(d.Path)
		if err != nil {
			return nil, fmt.Errorf("while creating output file: %w", err)
		}
		return f, nil
	case SchemeGCS:
		return openGCS(ctx, d, contentType, opts)
	case SchemeS3:
		return openS3(ctx, d, contentType, opts)
	}

	return nil, fmt.Errorf("unhandled destination scheme %v", d.Scheme)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}

type gcsWriter struct {
	*storage.Writer
	client *storage.Client
}

func openGCS(ctx context.Context, d Destination, contentType string, opts *Options) (io.WriteCloser, error) {
	clientOpts := []option.ClientOption{}
	if opts.GCSCredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.GCSCredentialsFile))
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("while creating GCS client: %w", err)
	}

	w := client.Bucket(d.Bucket).Object(d.Key).NewWriter(ctx)
	w.ContentType = contentType

	return &gcsWriter{Writer: w, client: client}, nil
}

func (g *gcsWriter) Close() error {
	defer g.client.Close()

	if err := g.Writer.Close(); err != nil {
		return fmt.Errorf("while finishing GCS upload of gs://%s/%s: %w", g.Writer.Bucket, g.Writer.Name, err)
	}

	glog.Infof("Uploaded gs://%s/%s", g.Writer.Bucket, g.Writer.Name)
	return nil
}

type s3Uploader interface {
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// s3Writer buffers the whole object, since PutObject needs the length up
// front.
type s3Writer struct {
	bytes.Buffer

	ctx         context.Context
	uploader    s3Uploader
	bucket, key string
	contentType string
}

func openS3(ctx context.Context, d Destination, contentType string, opts *Options) (io.WriteCloser, error) {
	cfg := &aws.Config{}
	if opts.S3Region != "" {
		cfg.Region = aws.String(opts.S3Region)
	}
	if opts.S3Endpoint != "" {
		cfg.Endpoint = aws.String(opts.S3Endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("while creating S3 session: %w", err)
	}

	return &s3Writer{
		ctx:         ctx,
		uploader:    s3.New(sess),
		bucket:      d.Bucket,
		key:         d.Key,
		contentType: contentType,
	}, nil
}

func (w *s3Writer) Close() error {
	size := int64(w.Len())
	_, err := w.uploader.PutObjectWithContext(w.ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(w.key),
		Body:          bytes.NewReader(w.Bytes()),
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(w.contentType),
	})
	if err != nil {
		return fmt.Errorf("while uploading s3://%s/%s: %w", w.bucket, w.key, err)
	}

	glog.Infof("Uploaded s3://%s/%s (%d bytes)", w.bucket, w.key, size)
	return nil
}
