package store

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/acrlabs/backuppy/internal/backuperrors"
)

// Storage-class size thresholds, ported verbatim from
// original_source/backuppy/stores/s3_backup_store.py: AWS charges objects
// below a storage class's minimum size as though they were that minimum.
// Each threshold is that minimum scaled by the ratio of the STANDARD price
// to the class's price; objects below it are stored in STANDARD.
const (
	iaMinSize      = 128 * 1024
	glacierMinSize = 40 * 1024
)

var (
	standardIASize  = int64(math.Ceil(0.023 / 0.0125 * iaMinSize))
	oneZoneIASize   = int64(math.Ceil(0.023 / 0.01 * iaMinSize))
	glacierSize     = int64(math.Ceil(0.023 / 0.004 * glacierMinSize))
	deepArchiveSize = int64(math.Ceil(0.023 / 0.00099 * glacierMinSize))
	regularStorage  = map[s3types.StorageClass]bool{s3types.StorageClassStandard: true, s3types.StorageClassIntelligentTiering: true}
)

// S3Driver backs a store by an S3-compatible bucket, ported from
// stores/s3_backup_store.py.
type S3Driver struct {
	Client       *s3.Client
	Bucket       string
	StorageClass s3types.StorageClass
}

func (d *S3Driver) Save(ctx context.Context, localPath, remoteName string) error {
	remoteName = strings.ReplaceAll(remoteName, `\`, "/")

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	_, err = d.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(d.Bucket),
		Key:          aws.String(remoteName),
		Body:         f,
		StorageClass: d.storageClassFor(remoteName, st.Size()),
	})
	return err
}

func (d *S3Driver) Load(ctx context.Context, remoteName string, w io.Writer) error {
	remoteName = strings.ReplaceAll(remoteName, `\`, "/")
	out, err := d.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.Bucket),
		Key:    aws.String(remoteName),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return &backuperrors.NotFound{RemoteName: remoteName, Err: err}
		}
		return err
	}
	defer out.Body.Close()
	_, err = io.Copy(w, out.Body)
	return err
}

func (d *S3Driver) Query(ctx context.Context, prefix string) ([]string, error) {
	var results []string
	paginator := s3.NewListObjectsV2Paginator(d.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			results = append(results, aws.ToString(obj.Key))
		}
	}
	return results, nil
}

func (d *S3Driver) Delete(ctx context.Context, remoteName string) error {
	_, err := d.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.Bucket),
		Key:    aws.String(remoteName),
	})
	return err
}

// storageClassFor never demotes a manifest object out of hot storage
// (spec §6.3's "manifests are always in hot storage"), and otherwise only
// honors the configured storage class once the object clears that class's
// economic minimum size.
func (d *S3Driver) storageClassFor(remoteName string, size int64) s3types.StorageClass {
	if strings.Contains(remoteName, "manifest") {
		return s3types.StorageClassStandard
	}

	class := d.StorageClass
	if class == "" {
		class = s3types.StorageClassStandard
	}

	switch {
	case regularStorage[class]:
		return class
	case class == s3types.StorageClassStandardIa && size >= standardIASize:
		return class
	case class == s3types.StorageClassOnezoneIa && size >= oneZoneIASize:
		return class
	case class == s3types.StorageClassGlacier && size >= glacierSize:
		return class
	case class == s3types.StorageClassDeepArchive && size >= deepArchiveSize:
		return class
	default:
		return s3types.StorageClassStandard
	}
}
