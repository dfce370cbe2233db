package heartbeat

import (
	"fmt"
	"os"
	"time"
)

// FileWorker reports liveness for an external capture process via its
// liveness file: the worker touches the file while healthy, the agent only
// reads the mtime. A stale or missing file means the worker is down.
type FileWorker struct {
	cameraID string
	path     string
	maxAge   time.Duration
}

// NewFileWorker creates a file-backed liveness probe for one camera.
func NewFileWorker(cameraID, path string, maxAge time.Duration) *FileWorker {
	if maxAge <= 0 {
		maxAge = 2 * time.Minute
	}
	return &FileWorker{cameraID: cameraID, path: path, maxAge: maxAge}
}

func (w *FileWorker) CameraID() string { return w.cameraID }

func (w *FileWorker) Liveness() Liveness {
	info, err := os.Stat(w.path)
	if err != nil {
		return Liveness{Alive: false, LastError: fmt.Sprintf("liveness file: %v", err)}
	}

	age := time.Since(info.ModTime())
	if age > w.maxAge {
		return Liveness{
			Alive:     false,
			LastError: fmt.Sprintf("liveness file stale for %s", age.Truncate(time.Second)),
		}
	}
	return Liveness{Alive: true}
}
