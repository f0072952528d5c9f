package tools

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/castellan-dev/castellan/internal/engine"
)

// MediaFactory backs the "media" capability: local image transforms an
// agent can run over files in its own working directories. Audio
// transcription and TTS belong to external pipelines, not this server.
func MediaFactory(_ context.Context, fctx FactoryContext) (Server, error) {
	dirs := allowedDirs(fctx)

	return Server{
		Name: "media",
		Tools: []engine.ToolDefinition{
			{
				Name:        "media_resize_image",
				Description: "Resize an image file in place (or to a new path) using Lanczos resampling.",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"path", "width", "height"},
					"properties": map[string]interface{}{
						"path":    map[string]interface{}{"type": "string"},
						"outPath": map[string]interface{}{"type": "string", "description": "defaults to overwriting path"},
						"width":   map[string]interface{}{"type": "integer"},
						"height":  map[string]interface{}{"type": "integer"},
					},
				},
				Handler: func(_ context.Context, args map[string]interface{}) (string, bool) {
					path, _ := args["path"].(string)
					outPath, _ := args["outPath"].(string)
					if outPath == "" {
						outPath = path
					}
					if !pathAllowed(path, dirs) || !pathAllowed(outPath, dirs) {
						return errResult("media_resize_image: path is outside this agent's allowed directories")
					}
					width := intArg(args["width"])
					height := intArg(args["height"])
					img, err := imaging.Open(path)
					if err != nil {
						return errResult("media_resize_image: open: %v", err)
					}
					resized := imaging.Resize(img, width, height, imaging.Lanczos)
					if err := imaging.Save(resized, outPath); err != nil {
						return errResult("media_resize_image: save: %v", err)
					}
					return textResult(fmt.Sprintf("resized %s to %dx%d at %s", filepath.Base(path), width, height, outPath))
				},
			},
		},
	}, nil
}

func intArg(v interface{}) int {
	f, _ := v.(float64)
	return int(f)
}

func allowedDirs(fctx FactoryContext) []string {
	dirs := append([]string{}, fctx.Directories...)
	dirs = append(dirs, fctx.WorkspaceDir)
	return dirs
}

func pathAllowed(path string, dirs []string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, d := range dirs {
		dAbs, err := filepath.Abs(d)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(dAbs, abs)
		if err == nil && rel != ".." && len(rel) > 0 && rel[0] != '.' {
			return true
		}
		if rel == "." {
			return true
		}
	}
	return false
}
