package replytext

import (
	"math/rand"
	"os"
	"sort"
	"sync"
)

// ImagePicker implements the attachment policy: when enabled and a uniform
// draw lands under the probability, a random image id from the local
// directory is attached to the reply payload.
type ImagePicker struct {
	dir         string
	enabled     bool
	probability float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewImagePicker builds the picker over a directory of image files whose
// names serve as media ids.
func NewImagePicker(dir string, enabled bool, probability float64, seed int64) *ImagePicker {
	return &ImagePicker{
		dir:         dir,
		enabled:     enabled,
		probability: probability,
		rng:         rand.New(rand.NewSource(seed)), // #nosec G404 -- attachment jitter, not security
	}
}

// Pick returns a media id or "" when no image should be attached.
func (p *ImagePicker) Pick() string {
	if !p.enabled {
		return ""
	}
	p.mu.Lock()
	draw := p.rng.Float64()
	p.mu.Unlock()
	if draw >= p.probability {
		return ""
	}

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return ""
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Strings(ids)
	p.mu.Lock()
	idx := p.rng.Intn(len(ids))
	p.mu.Unlock()
	return ids[idx]
}
