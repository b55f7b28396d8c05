package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

const (
	stylePackPrefix = "stylepacks/"
	regionPrefix    = "regions/"
	tilePrefix      = "tiles/"
	styleResPrefix  = "styles/"
	glyphPrefix     = "glyphs/"
)

type stylePackRecord struct {
	StyleURL  string            `json:"styleUrl"`
	Mode      string            `json:"glyphsRasterizationMode"`
	Completed uint64            `json:"completedResourceCount"`
	Required  uint64            `json:"requiredResourceCount"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

type regionRecord struct {
	ID        string            `json:"id"`
	Tiles     []string          `json:"tiles"`
	Completed uint64            `json:"completedResourceCount"`
	Required  uint64            `json:"requiredResourceCount"`
	Size      uint64            `json:"completedResourceSize"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

func escapeKey(s string) string { return url.QueryEscape(s) }

func stylePackKey(styleURL string) string { return stylePackPrefix + escapeKey(styleURL) + ".json" }
func regionKey(id string) string          { return regionPrefix + escapeKey(id) + ".json" }

func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}

func writeJSON(ctx context.Context, bucket *blob.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sim: encode %s: %w", key, err)
	}
	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := bucket.WriteAll(ctx, key, data, opts); err != nil {
		return fmt.Errorf("sim: write %s: %w", key, err)
	}
	return nil
}

func readJSON(ctx context.Context, bucket *blob.Bucket, key string, v any) error {
	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		return fmt.Errorf("sim: read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("sim: decode %s: %w", key, err)
	}
	return nil
}

// listJSON decodes every record under prefix in key order.
func listJSON[T any](ctx context.Context, bucket *blob.Bucket, prefix string) ([]T, error) {
	var out []T
	iter := bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sim: list %s: %w", prefix, err)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		var rec T
		if err := readJSON(ctx, bucket, obj.Key, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// listKeys returns every object key under prefix in key order.
func listKeys(ctx context.Context, bucket *blob.Bucket, prefix string) ([]string, error) {
	var keys []string
	iter := bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return keys, nil
		}
		if err != nil {
			return nil, fmt.Errorf("sim: list %s: %w", prefix, err)
		}
		if !obj.IsDir {
			keys = append(keys, obj.Key)
		}
	}
}

// deletePrefix removes every object under prefix.
func deletePrefix(ctx context.Context, bucket *blob.Bucket, prefix string) error {
	keys, err := listKeys(ctx, bucket, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := bucket.Delete(ctx, key); err != nil && !isNotExist(err) {
			return fmt.Errorf("sim: delete %s: %w", key, err)
		}
	}
	return nil
}
