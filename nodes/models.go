package nodes

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ModelExt is the file extension of local model weights.
const ModelExt = ".gguf"

// ModelInfo describes one installed local model.
type ModelInfo struct {
	Name          string    `json:"name"`
	Path          string    `json:"path"`
	Size          int64     `json:"size"`
	SizeFormatted string    `json:"sizeFormatted"`
	Modified      time.Time `json:"modified"`
}

// ModelCatalog lists installed local models.
type ModelCatalog interface {
	Models(ctx context.Context) ([]ModelInfo, error)
}

// DirCatalog lists the model files found under a directory.
type DirCatalog struct {
	Dir string
}

// Models walks Dir for model files, sorted by name. A missing directory
// yields no models.
func (c DirCatalog) Models(ctx context.Context) ([]ModelInfo, error) {
	if c.Dir == "" {
		return nil, nil
	}
	var out []ModelInfo
	err := filepath.WalkDir(c.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == c.Dir {
				return fs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ModelExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, ModelInfo{
			Name:          strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())),
			Path:          path,
			Size:          info.Size(),
			SizeFormatted: humanize.Bytes(uint64(info.Size())),
			Modified:      info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing models in %s: %w", c.Dir, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// modelID maps a selected model to the id sent to the local runtime: model
// files are addressed by their base name, anything else is used as-is.
func modelID(selected string) string {
	if strings.EqualFold(filepath.Ext(selected), ModelExt) {
		base := filepath.Base(selected)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return selected
}

// modelExists reports whether a selected model file is present. Non-file
// selections are assumed to exist in the runtime.
func modelExists(selected string) bool {
	if !strings.EqualFold(filepath.Ext(selected), ModelExt) {
		return true
	}
	_, err := os.Stat(selected)
	return err == nil
}
