// SPDX-License-Identifier: MIT

package token

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/renameio/v2"
)

// Cache persists the last good token so a restarted endpoint can present
// it while re-acquiring. Writes are atomic; a crash never leaves a
// half-written file behind.
type Cache struct {
	path string
}

// NewCache creates a cache at path.
func NewCache(path string) *Cache {
	return &Cache{path: path}
}

type cacheFile struct {
	Token   string    `json:"token"`
	SavedAt time.Time `json:"savedAt"`
}

// Load returns the cached token, if any.
func (c *Cache) Load() (string, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return "", false
	}
	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil || f.Token == "" {
		return "", false
	}
	return f.Token, true
}

// Store atomically replaces the cache file.
func (c *Cache) Store(token string) error {
	data, err := json.Marshal(cacheFile{Token: token, SavedAt: time.Now()})
	if err != nil {
		return err
	}
	return renameio.WriteFile(c.path, data, 0o600)
}
