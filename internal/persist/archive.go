package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Archiver uploads periodic full-state snapshots to an S3 bucket,
// giving an operator offsite backups beyond the local memory.json the
// cron-scheduled backup already maintains. Entirely optional: rtusimd
// runs without it configured.
type S3Archiver struct {
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Archiver builds an archiver for the named bucket in region,
// reusing whatever credential chain the environment provides (env vars,
// shared config, instance profile).
func NewS3Archiver(region, bucket, prefix string) (*S3Archiver, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("s3 archiver: new session: %w", err)
	}
	return &S3Archiver{
		uploader: s3manager.NewUploader(sess),
		bucket:   bucket,
		prefix:   prefix,
	}, nil
}

// ArchiveSnapshot uploads the file at localPath under a timestamped key.
// Errors are returned for the caller to log; a failed archive upload must
// never block the in-process snapshot it is backing up.
func (a *S3Archiver) ArchiveSnapshot(localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("s3 archiver: open %s: %w", localPath, err)
	}
	defer f.Close()

	key := fmt.Sprintf("%s/%s-%s", a.prefix, time.Now().UTC().Format("20060102T150405Z"), filepath.Base(localPath))
	_, err = a.uploader.Upload(&s3manager.UploadInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("s3 archiver: upload %s: %w", key, err)
	}
	return nil
}
