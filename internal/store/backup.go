package store

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// BackupConfig holds backup destinations. Remote upload is disabled when
// Bucket is empty; the service then stages snapshots locally only.
type BackupConfig struct {
	Dir             string // local staging directory
	Keep            int    // snapshots to retain, locally and remotely
	Bucket          string
	Endpoint        string // S3-compatible endpoint (R2)
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string // object key prefix
}

const defaultBackupKeep = 3

// BackupService snapshots the store with VACUUM INTO, verifies the copy,
// compresses it, and optionally ships it to an S3-compatible bucket.
// Retention applies independently to the local staging directory and the
// remote bucket.
type BackupService struct {
	store    *SQLiteStore
	cfg      BackupConfig
	client   *s3.Client
	uploader *manager.Uploader
	log      zerolog.Logger
}

// NewBackupService creates the backup service, wiring the remote client
// only when a bucket is configured.
func NewBackupService(ctx context.Context, st *SQLiteStore, cfg BackupConfig, log zerolog.Logger) (*BackupService, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup directory not configured")
	}
	if cfg.Keep <= 0 {
		cfg.Keep = defaultBackupKeep
	}

	b := &BackupService{
		store: st,
		cfg:   cfg,
		log:   log.With().Str("component", "backup").Logger(),
	}

	if cfg.Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion("auto"),
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load backup credentials: %w", err)
		}
		b.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
		b.uploader = manager.NewUploader(b.client)
	}

	return b, nil
}

// Backup takes one snapshot end to end and returns the local artifact path.
// A snapshot that fails integrity verification is deleted and never shipped.
func (b *BackupService) Backup(ctx context.Context) (string, error) {
	startTime := time.Now()
	if err := os.MkdirAll(b.cfg.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("meridian_%s.db", time.Now().UTC().Format("2006-01-02_150405.000000000"))
	rawPath := filepath.Join(b.cfg.Dir, name)

	if err := b.store.VacuumInto(ctx, rawPath); err != nil {
		return "", err
	}

	if err := verifySnapshot(rawPath); err != nil {
		_ = os.Remove(rawPath)
		return "", fmt.Errorf("backup verification failed: %w", err)
	}

	gzPath, sum, err := compressSnapshot(rawPath)
	_ = os.Remove(rawPath)
	if err != nil {
		return "", fmt.Errorf("backup compression failed: %w", err)
	}

	if b.uploader != nil {
		if err := b.upload(ctx, gzPath, sum); err != nil {
			// The local artifact stays; the next run retries the remote side.
			b.log.Error().Err(err).Str("path", gzPath).Msg("backup upload failed")
		} else if err := b.rotateRemote(ctx); err != nil {
			b.log.Warn().Err(err).Msg("failed to rotate remote backups")
		}
	}

	if err := b.rotateLocal(); err != nil {
		b.log.Warn().Err(err).Msg("failed to rotate local backups")
	}

	b.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("path", gzPath).
		Str("sha256", sum).
		Msg("backup completed")
	return gzPath, nil
}

// verifySnapshot opens the copied database and runs an integrity check
func verifySnapshot(path string) error {
	snap, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer snap.Close()

	var result string
	if err := snap.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// compressSnapshot gzips the snapshot next to it and returns the artifact
// path with the hex sha256 of the compressed bytes.
func compressSnapshot(rawPath string) (string, string, error) {
	in, err := os.Open(rawPath)
	if err != nil {
		return "", "", err
	}
	defer in.Close()

	gzPath := rawPath + ".gz"
	out, err := os.Create(gzPath)
	if err != nil {
		return "", "", err
	}
	defer out.Close()

	hash := sha256.New()
	gz := gzip.NewWriter(io.MultiWriter(out, hash))
	if _, err := io.Copy(gz, in); err != nil {
		_ = gz.Close()
		_ = os.Remove(gzPath)
		return "", "", err
	}
	if err := gz.Close(); err != nil {
		_ = os.Remove(gzPath)
		return "", "", err
	}
	return gzPath, hex.EncodeToString(hash.Sum(nil)), nil
}

func (b *BackupService) upload(ctx context.Context, path, sum string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	key := b.objectKey(filepath.Base(path))
	_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(b.cfg.Bucket),
		Key:      aws.String(key),
		Body:     f,
		Metadata: map[string]string{"sha256": sum},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	b.log.Info().Str("bucket", b.cfg.Bucket).Str("key", key).Msg("backup uploaded")
	return nil
}

// rotateLocal deletes the oldest local artifacts beyond the retention count.
// Snapshot names embed a UTC timestamp, so lexical order is chronological.
func (b *BackupService) rotateLocal() error {
	entries, err := os.ReadDir(b.cfg.Dir)
	if err != nil {
		return fmt.Errorf("failed to read backup directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !isBackupArtifact(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names[min(b.cfg.Keep, len(names)):] {
		path := filepath.Join(b.cfg.Dir, name)
		if err := os.Remove(path); err != nil {
			b.log.Warn().Str("path", path).Err(err).Msg("failed to delete old backup")
		} else {
			b.log.Debug().Str("path", path).Msg("deleted old backup")
		}
	}
	return nil
}

// rotateRemote deletes the oldest remote objects beyond the retention count
func (b *BackupService) rotateRemote(ctx context.Context) error {
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.cfg.Bucket),
		Prefix: aws.String(b.objectKey("")),
	})
	if err != nil {
		return fmt.Errorf("failed to list remote backups: %w", err)
	}

	var keys []string
	for _, obj := range out.Contents {
		if obj.Key != nil {
			keys = append(keys, *obj.Key)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	for _, key := range keys[min(b.cfg.Keep, len(keys)):] {
		if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.cfg.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			b.log.Warn().Str("key", key).Err(err).Msg("failed to delete old remote backup")
		} else {
			b.log.Debug().Str("key", key).Msg("deleted old remote backup")
		}
	}
	return nil
}

func (b *BackupService) objectKey(name string) string {
	if b.cfg.Prefix == "" {
		return name
	}
	return strings.TrimSuffix(b.cfg.Prefix, "/") + "/" + name
}

func isBackupArtifact(name string) bool {
	return strings.HasPrefix(name, "meridian_") && strings.HasSuffix(name, ".db.gz")
}
