package remote

import (
	"context"
	"fmt"

	"ardrive-sync/internal/config"
	"ardrive-sync/internal/engine"
)

// NewGatewayFromConfig creates a RemoteStorage implementation based on the
// gateway config type.
func NewGatewayFromConfig(ctx context.Context, cfg config.GatewayConfig) (engine.RemoteStorage, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryGateway(), nil
	case "filesystem":
		if cfg.FSGatewayRoot == "" {
			return nil, fmt.Errorf("filesystem gateway requires fs_gateway_root to be set")
		}
		return NewFileSystemGateway(cfg.FSGatewayRoot)
	case "s3":
		return NewS3Gateway(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown gateway type: %s", cfg.Type)
	}
}
