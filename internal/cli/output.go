package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pendergraft/pngprotect/internal/validation"
	"github.com/pendergraft/pngprotect/pkg/client"
)

// readImage loads an image file and checks it is a type the service accepts
func readImage(path string) (client.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return client.Upload{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := validation.ValidateImage(data); err != nil {
		return client.Upload{}, fmt.Errorf("%s: %w", path, err)
	}
	return client.Upload{Name: filepath.Base(path), Data: data}, nil
}

// outputPath picks where a derived image is written. An explicit path wins,
// then the project output_dir, then the input's directory.
func outputPath(explicit, input, suffix, ext string) string {
	if explicit != "" {
		return explicit
	}

	dir := filepath.Dir(input)
	if pc := loadProjectConfigSilent(); pc != nil && pc.OutputDir != "" {
		dir = pc.OutputDir
	}

	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if ext == "" {
		ext = filepath.Ext(input)
	}
	return filepath.Join(dir, base+"_"+suffix+ext)
}

// extensionFor returns the file extension for an artifact content type
func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// defaultOwner returns the owner from the flag or the project config
func defaultOwner(flag string) string {
	if flag != "" {
		return flag
	}
	if pc := loadProjectConfigSilent(); pc != nil {
		return pc.Owner
	}
	return ""
}

// defaultStrength returns the strength from the flag or the project config
func defaultStrength(flag int) int {
	if flag != 0 {
		return flag
	}
	if pc := loadProjectConfigSilent(); pc != nil && pc.Strength != 0 {
		return pc.Strength
	}
	return validation.DefaultStrength
}
