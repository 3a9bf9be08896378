package artifact

import (
	"context"
	"fmt"
	"strings"
)

// Backend — реализация хранилища.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendMinIO  Backend = "minio"
	BackendS3     Backend = "s3"
)

// Config — параметры подключения к хранилищу.
type Config struct {
	Backend   Backend
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Validate проверяет обязательные поля выбранного backend'а.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, "":
		return nil
	case BackendMinIO:
		if c.Endpoint == "" || c.Bucket == "" {
			return fmt.Errorf("minio backend requires endpoint and bucket")
		}
		if c.AccessKey == "" || c.SecretKey == "" {
			return fmt.Errorf("minio backend requires access and secret keys")
		}
		return nil
	case BackendS3:
		if c.Bucket == "" {
			return fmt.Errorf("s3 backend requires bucket")
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
}

// New создаёт хранилище по конфигурации.
func New(ctx context.Context, cfg Config) (Store, error) {
	cfg.Backend = Backend(strings.ToLower(string(cfg.Backend)))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendMinIO:
		return NewMinIOStore(ctx, cfg)
	case BackendS3:
		return NewS3Store(ctx, cfg)
	default:
		return NewMemoryStore(), nil
	}
}
