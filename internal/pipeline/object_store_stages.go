package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"github.com/dunamismax/imagekit/internal/domain"
	"github.com/dunamismax/imagekit/internal/storage"
)

// NewObjectStoreProcessor reads sources from and writes outputs to the object store.
func NewObjectStoreProcessor(transformer Transformer, client *storage.Client, outputPrefix string, limits domain.Limits, logger *log.Logger) *Processor {
	return NewProcessor(
		ObjectStoreFetcher{Storage: client},
		transformer,
		ObjectStoreEmitter{Storage: client, OutputPrefix: outputPrefix},
		limits,
		logger,
	)
}

type ObjectStoreFetcher struct {
	Storage *storage.Client
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request, item domain.JobItemRequest) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, domain.SourceTypeObjectStore) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, item.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      *storage.Client
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, item domain.JobItemRequest, result domain.TransformResult) (string, error) {
	if e.Storage == nil {
		return "", errors.New("storage client is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.JobID),
		HashedOutputName(itemName(item), req.Options.Kind, result),
	)
	if err := e.Storage.WriteObject(ctx, objectKey, result.Data, result.MimeType); err != nil {
		return "", err
	}
	return objectKey, nil
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
