package server

import (
	"fmt"

	"github.com/gobox/gobox/internal/server/blob"
	"github.com/gobox/gobox/internal/server/users"
)

type Services struct {
	Blob  *blob.BlobService
	Users *users.UserService
}

// NewServices opens the stores. Users share the blob index database.
func NewServices(config *Config) (*Services, error) {
	var (
		blobSvc *blob.BlobService
		err     error
	)
	if config.InMemory {
		blobSvc, err = blob.NewMemBlobService()
	} else {
		blobSvc, err = blob.NewBlobService(config.DataDir)
	}
	if err != nil {
		return nil, fmt.Errorf("blob service: %w", err)
	}

	usersSvc, err := users.NewUserService(blobSvc.DB())
	if err != nil {
		blobSvc.Close()
		return nil, fmt.Errorf("user service: %w", err)
	}

	return &Services{
		Blob:  blobSvc,
		Users: usersSvc,
	}, nil
}

func (s *Services) Close() error {
	return s.Blob.Close()
}
