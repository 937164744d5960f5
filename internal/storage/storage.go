// Package storage is the object-storage collaborator used for message
// attachments. Uploads land in a GridFS bucket served read-only under a
// public base URL.
package storage

import (
	"bytes"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Uploader interface {
	Upload(path string, data []byte) error
	// PublicURL is only meaningful after a successful Upload to the same
	// path.
	PublicURL(path string) string
}

type (
	GridFSStorage struct {
		bucket     *gridfs.Bucket
		publicBase string
	}
)

func NewGridFSStorage(db *mongo.Database, publicBase string) (*GridFSStorage, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName("chat_media"))
	if err != nil {
		return nil, fmt.Errorf("open gridfs bucket: %w", err)
	}
	return &GridFSStorage{
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
	}, nil
}

func (s *GridFSStorage) Upload(path string, data []byte) error {
	if _, err := s.bucket.UploadFromStream(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

func (s *GridFSStorage) PublicURL(path string) string {
	return s.publicBase + "/" + path
}
