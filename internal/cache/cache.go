package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/daemonp/satel2mqtt/internal/types"
)

const cacheFileName = "satel2mqtt_cache.json"

// SaveCache persists panel identification and device names so the next
// run can skip the per-device name reads.
func SaveCache(data *types.CacheData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %v", err)
	}

	cacheDir, err := getCacheDir()
	if err != nil {
		return fmt.Errorf("failed to get cache directory: %v", err)
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %v", err)
	}

	cacheFilePath := filepath.Join(cacheDir, cacheFileName)
	if err := os.WriteFile(cacheFilePath, payload, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %v", err)
	}

	return nil
}

func LoadCache() (*types.CacheData, error) {
	cacheDir, err := getCacheDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get cache directory: %v", err)
	}

	cacheFilePath := filepath.Join(cacheDir, cacheFileName)
	data, err := os.ReadFile(cacheFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache file: %v", err)
	}

	var cacheData types.CacheData
	if err := json.Unmarshal(data, &cacheData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %v", err)
	}

	return &cacheData, nil
}

func DeleteCache() error {
	cacheDir, err := getCacheDir()
	if err != nil {
		return fmt.Errorf("failed to get cache directory: %v", err)
	}

	cacheFilePath := filepath.Join(cacheDir, cacheFileName)
	if err := os.Remove(cacheFilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache file: %v", err)
	}

	return nil
}

func getCacheDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %v", err)
	}

	return filepath.Join(homeDir, ".cache", "satel2mqtt"), nil
}
